package cli

import (
	"skin_sheet/internal/app"
	"skin_sheet/internal/steam"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "lookup <market name>",
		Short: "Resolve the image and price of one item",
		Args:  cobra.ExactArgs(1),
		RunE:  runLookup,
	}
	cmd.Flags().Bool("prices", false, "Also resolve the price overview")

	RootCmd.AddCommand(cmd)
}

type lookupResult struct {
	MarketName string       `json:"marketName"`
	ImageURL   *string      `json:"imageUrl"`
	ImageError string       `json:"imageError,omitempty"`
	Price      *steam.Price `json:"price,omitempty"`
	PriceError string       `json:"priceError,omitempty"`
}

func runLookup(cmd *cobra.Command, args []string) error {
	prices, _ := cmd.Flags().GetBool("prices")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := app.InitializeSteamClient(cfg)

	result := lookupResult{MarketName: args[0]}
	url, err := client.ResolveImage(cmd.Context(), args[0])
	if err != nil {
		result.ImageError = err.Error()
	}
	result.ImageURL = url

	if prices {
		price, err := client.ResolvePrice(cmd.Context(), args[0])
		if err != nil {
			result.PriceError = err.Error()
		} else {
			result.Price = &price
		}
	}
	printJSON(result)
	return nil
}

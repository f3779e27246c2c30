// Package cli implements the skin-sheet commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"skin_sheet/internal/app"

	"github.com/spf13/cobra"
)

var dbURL string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "skin-sheet",
	Short: "Serve a trade sheet enriched with market images and prices",
	Long: "Reads item rows from a published sheet, resolves each item's market image and price, " +
		"and serves the merged list as JSON. With a database configured, enrichment is stored and " +
		"kept fresh by a background loop.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Store DSN: postgres URL, SQLite path or \"memory\" (default: $DATABASE_URL)")
}

func loadConfig() (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	return cfg, nil
}

func buildRuntime(ctx context.Context) (*app.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	return rt, nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

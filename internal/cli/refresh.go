package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one background refresh cycle against the store",
		RunE:  runRefresh,
	}
	RootCmd.AddCommand(cmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.Refresher == nil {
		return errors.New("refresh: no store configured: set DATABASE_URL or --db")
	}
	stats, err := rt.Refresher.Cycle(cmd.Context())
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	printJSON(map[string]any{
		"scanned":       stats.Scanned,
		"candidates":    stats.Candidates,
		"refreshed":     stats.Refreshed,
		"skipped":       stats.Skipped,
		"imageFailures": stats.ImageFailures,
		"priceFailures": stats.PriceFailures,
		"apiCalls":      rt.Steam.GetAPICallCount(),
	})
	return nil
}

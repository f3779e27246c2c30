package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Read the sheet once and store every item",
		RunE:  runIngest,
	}
	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rt.Service.Ingest(cmd.Context())
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	printJSON(summary)
	return nil
}

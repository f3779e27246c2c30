package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"skin_sheet/internal/httpapi"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, plus the refresh loop when a store is configured",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default: $LISTEN_ADDR or :8080)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := rt.Config.ListenAddr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	// background workers must be gone before the store closes
	var wg sync.WaitGroup
	if rt.Refresher != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rt.Refresher.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			rt.Queue.Run(ctx, rt.Refresher)
		}()
	}

	err = httpapi.ListenAndServe(ctx, addr, httpapi.New(rt.Service).Handler())
	interrupted := ctx.Err() != nil
	stop()
	wg.Wait()

	if err != nil && !interrupted {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info().Msg("Shut down")
	return nil
}

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/distantorigin/craftlauncher/internal/api"
)

const addrFlag = "addr"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the instance API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.cfg.Server.Addr
			if f := cmd.Flag(addrFlag); f != nil && f.Changed {
				addr = f.Value.String()
			}
			ch, err := a.channel("")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.New(a.store, a.catalog, a.controller, ch, a.logger)
			serveErr := srv.ListenAndServe(ctx, addr)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.controller.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("sessions did not stop in time", "error", err)
			}
			return serveErr
		},
	}
	cmd.Flags().String(addrFlag, "", "listen address; overrides server.addr")
	return cmd
}

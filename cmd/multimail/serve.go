package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/multimail/internal/dispatch"
)

func newServeCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mail dispatch endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			prov, err := selectProvider(ctx, rt.cfg)
			if err != nil {
				return err
			}

			slog.Info("starting multimail endpoint",
				"listen", rt.cfg.HTTP.Listen,
				"provider", prov.Name(),
			)

			server := dispatch.NewServer(rt.cfg.HTTP.Listen, prov)
			if err := server.ListenAndServe(ctx); err != nil {
				slog.Error("server error", "error", err)
				return err
			}

			slog.Info("multimail endpoint stopped")
			return nil
		},
	}
}

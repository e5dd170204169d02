package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/multimail/internal/email"
	"github.com/shineum/multimail/internal/provider/stdout"
	"github.com/shineum/multimail/internal/sink"
	sinktls "github.com/shineum/multimail/internal/tls"
)

func newSinkCommand(rt *runtime) *cobra.Command {
	var (
		hostname string
		noTLS    bool
	)

	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run a local SMTP relay that prints received mail instead of sending it",
		Long: "Point the smtp provider at the sink (RELAY_HOST=localhost RELAY_PORT=2525,\n" +
			"plus RELAY_INSECURE_SKIP_VERIFY=true for the self-signed certificate) to exercise\n" +
			"the full dispatch path without sending real mail.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := sink.Config{
				ListenAddr:     rt.cfg.Sink.Listen,
				Hostname:       hostname,
				Username:       rt.cfg.Sink.Username,
				Password:       rt.cfg.Sink.Password,
				MaxMessageSize: rt.cfg.Sink.MaxMessageSize,
			}

			tlsMode := "disabled"
			if !noTLS {
				tlsConfig, mode, err := sinktls.Load(rt.cfg.TLS.CertFile, rt.cfg.TLS.KeyFile, hostname)
				if err != nil {
					slog.Error("failed to setup TLS", "error", err)
					return err
				}
				cfg.TLSConfig = tlsConfig
				tlsMode = string(mode)
			}

			printer := stdout.NewWithWriter(cmd.OutOrStdout())
			cfg.Deliverer = sink.DeliverFunc(func(ctx context.Context, msg *email.Email) error {
				return printer.Send(ctx, email.Credentials{EmailID: msg.From}, msg)
			})

			slog.Info("starting multimail sink",
				"listen", cfg.ListenAddr,
				"auth_enabled", rt.cfg.SinkAuthEnabled(),
				"tls_mode", tlsMode,
			)

			if err := sink.New(cfg).ListenAndServe(ctx); err != nil {
				slog.Error("sink error", "error", err)
				return err
			}

			slog.Info("multimail sink stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&hostname, "hostname", "localhost", "name announced in the SMTP greeting and used for the self-signed certificate")
	cmd.Flags().BoolVar(&noTLS, "no-tls", false, "do not offer STARTTLS")

	return cmd
}

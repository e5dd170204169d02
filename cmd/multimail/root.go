package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shineum/multimail/internal/config"
	"github.com/shineum/multimail/internal/provider"
	"github.com/shineum/multimail/internal/provider/ses"
	"github.com/shineum/multimail/internal/provider/smtp"
	"github.com/shineum/multimail/internal/provider/stdout"
)

// runtime is shared by all subcommands once the root has loaded config.
type runtime struct {
	configPath string
	cfg        *config.Config
	out        io.Writer
}

func newRootCommand(out io.Writer) *cobra.Command {
	rt := &runtime{out: out}

	root := &cobra.Command{
		Use:           "multimail",
		Short:         "Send one HTML message to many recipients",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(rt.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			rt.cfg = cfg

			// send prints results on stdout; keep its logs off that stream.
			logOut := io.Writer(os.Stdout)
			if cmd.Name() == "send" {
				logOut = os.Stderr
			}
			setupLogger(cfg.Logging.Level, logOut)
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&rt.configPath, "config", "", "path to YAML configuration file (optional)")

	root.AddCommand(
		newServeCommand(rt),
		newSendCommand(rt),
		newSinkCommand(rt),
	)
	return root
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string, w io.Writer) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectProvider builds the relay named by PROVIDER; smtp when unset.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.ProviderName() {
	case config.ProviderSES:
		slog.Info("using AWS SES provider", "region", cfg.SES.Region)
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case config.ProviderSMTP:
		slog.Info("using SMTP relay provider",
			"host", cfg.Relay.Host,
			"port", cfg.Relay.Port,
		)
		return smtp.New(smtp.Config{
			Host:               cfg.Relay.Host,
			Port:               cfg.Relay.Port,
			LocalName:          cfg.Relay.LocalName,
			InsecureSkipVerify: cfg.Relay.InsecureSkipVerify,
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/mme-broker/internal/pkg/config"
	"github.com/tjfontaine/mme-broker/pkg/broker"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			override := func(cfg *config.Config) {
				if flags.Changed("host") {
					cfg.Server.Host = host
				}
				if flags.Changed("port") {
					cfg.Server.Port = port
				}
			}

			b, err := broker.New(
				broker.WithLogger(a.logger),
				broker.WithFileConfig(a.configPath),
				broker.WithConfigOverride(override),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := b.Start(ctx); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				a.logger.Info("shutdown signal received, stopping broker")
			case err := <-b.Errors():
				a.logger.Error("server stopped", slog.String("error", err.Error()))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return b.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "listen host")
	cmd.Flags().IntVar(&port, "port", 8000, "listen port")
	return cmd
}

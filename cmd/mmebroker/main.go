// Command mmebroker runs and administers a matchmaker federation broker.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/mme-broker/internal/pkg/config"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := newRootCmd(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	logger     *slog.Logger
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.LoadFile(a.configPath)
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	a := &app{logger: logger}

	root := &cobra.Command{
		Use:   "mmebroker",
		Short: "Matchmaker Exchange federation broker",
		Long: `mmebroker forwards patient match queries from authenticated inbound
peers to outbound Matchmaker Exchange servers, normalizing requests and
responses and recording every exchange in an audit log.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(a),
		newRecentCmd(a),
		newPeersCmd(a),
		newValidateCmd(a),
	)
	return root
}

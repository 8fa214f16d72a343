package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"clusterdoc/config"
	"clusterdoc/pkg/logging"
)

var (
	configPath string
	backend    string
	timeout    int
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "clusterdoc",
		Short: "clusterdoc - document-based cluster membership and routing",
		Long: `clusterdoc keeps a fleet's membership and resource routing table in one
shared document. Nodes heartbeat into it, evict peers that stop heartbeating,
and route resources to their owners.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Storage backend (memory, badger, nats, postgres, remote)")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 10, "Request timeout in seconds")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(nodesCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(resetCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration, applies global flag overrides and
// installs the configured logger as the global one.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	applyOverrides(cfg)

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log.Logger = logger
	return cfg, logger, nil
}

func applyOverrides(cfg *config.Config) {
	if backend != "" {
		cfg.Storage.Backend = backend
	}
}

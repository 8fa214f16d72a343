package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"clusterdoc/config"
	"clusterdoc/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shared document store over gRPC",
		Long: `Serve a document store that coordinators configured with the remote
backend share. Documents are kept in the memory, badger, nats or postgres backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if cfg.Storage.Backend == config.BackendRemote {
				return fmt.Errorf("serve needs a local backend, not %q", cfg.Storage.Backend)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStorage(ctx, cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer st.Close()

			srv := server.NewServer(cfg, st, logger)

			if cfg.Metrics.Enabled {
				h := server.NewStatusHandler(prometheus.DefaultGatherer, nil, srv.Health)
				addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port)
				go func() {
					if err := server.ListenStatus(ctx, addr, h, logger); err != nil {
						logger.Error().Err(err).Msg("Status endpoint failed")
					}
				}()
			}

			logger.Info().
				Str("backend", cfg.Storage.Backend).
				Int("port", cfg.Server.Port).
				Msg("Starting clusterdoc server")
			err = srv.Start(ctx)
			logger.Info().Msg("clusterdoc server stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port")
	return cmd
}

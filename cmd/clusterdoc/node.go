package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"clusterdoc/config"
	"clusterdoc/pkg/cluster"
	"clusterdoc/pkg/logging"
	"clusterdoc/pkg/server"
)

// claim is a resource this node routes to itself on start.
type claim struct {
	resource string
	typ      string
}

func parseClaims(raw []string) ([]claim, error) {
	out := make([]claim, 0, len(raw))
	for _, c := range raw {
		id, typ, ok := strings.Cut(c, "=")
		if !ok || id == "" || typ == "" {
			return nil, fmt.Errorf("invalid claim %q, want id=type", c)
		}
		out = append(out, claim{resource: id, typ: typ})
	}
	return out, nil
}

func nodeCmd() *cobra.Command {
	var claims []string
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a cluster member",
		Long: `Join the cluster through the shared document, heartbeat until interrupted,
then leave. Resources given with --claim are routed to this node once it
has joined and released when it leaves.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseClaims(claims)
			if err != nil {
				return err
			}

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging, os.Stderr)
			if err != nil {
				return err
			}
			log.Logger = logger
			src, _, err := config.NewFileSource(configPath, logger)
			if err != nil {
				return err
			}
			applyOverrides(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
			}
			defer closeStore()

			reg := prometheus.NewRegistry()
			mgr := cluster.NewManager(cluster.Config{
				DocumentID: cfg.Cluster.DocumentID,
				Logger:     &logger,
				Metrics:    cluster.NewMetrics(reg),
			}, src)
			if err := mgr.Setup(store); err != nil {
				return err
			}

			callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
			err = mgr.Start(callCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("join cluster: %w", err)
			}
			logger.Info().Str("node_id", mgr.NodeID()).Msg("Joined cluster")

			for _, c := range parsed {
				callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
				err := mgr.AssignResource(callCtx, c.resource, c.typ, cluster.RouteStarted)
				cancel()
				if err != nil {
					logger.Error().Err(err).Str("resource", c.resource).Msg("Failed to claim resource")
				}
			}

			if cfg.Metrics.Enabled {
				h := server.NewStatusHandler(reg, mgr, nil)
				addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
				go func() {
					if err := server.ListenStatus(ctx, addr, h, logger); err != nil {
						logger.Error().Err(err).Msg("Status endpoint failed")
					}
				}()
			}

			<-ctx.Done()
			logger.Info().Msg("Received shutdown signal")

			stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
			defer cancel()
			return mgr.Stop(stopCtx)
		},
	}
	cmd.Flags().StringArrayVar(&claims, "claim", nil, "Route a resource to this node, as id=type (repeatable)")
	return cmd
}

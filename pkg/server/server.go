package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"clusterdoc/config"
	"clusterdoc/pkg/docstore"
	"clusterdoc/storage"
)

// Server exposes a document store to remote coordinators over gRPC.
type Server struct {
	config *config.Config
	log    zerolog.Logger
	docs   *docstore.KV
	grpc   *grpc.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, store storage.Storage, logger zerolog.Logger) *Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Second,
			MaxConnectionAge:      30 * time.Second,
			MaxConnectionAgeGrace: 5 * time.Second,
			Time:                  5 * time.Second,
			Timeout:               1 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4 * 1024 * 1024), // 4MB
		grpc.MaxSendMsgSize(4 * 1024 * 1024), // 4MB
	}
	if cfg.Server.MaxConnections > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConnections)))
	}

	s := &Server{
		config: cfg,
		log:    logger.With().Str("component", "docstore-server").Logger(),
		docs:   docstore.NewKV(store),
		grpc:   grpc.NewServer(opts...),
	}
	docstore.RegisterService(s.grpc, s.docs)
	return s
}

// Documents is the store the gRPC service serves from.
func (s *Server) Documents() docstore.Store { return s.docs }

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("Serving document store")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.Stop()
	return nil
}

// Stop drains in-flight calls, forcing the stop after 30 seconds.
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("Server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.log.Warn().Msg("Force stopping server")
		s.grpc.Stop()
	}
}

// Health checks that the backing storage answers.
func (s *Server) Health(ctx context.Context) error {
	_, err := s.docs.Underlying().Exists(ctx, s.config.Cluster.DocumentID)
	return err
}

package main

import (
	"context"
	"fmt"

	client "clusterdoc/clients/go"
	"clusterdoc/config"
	"clusterdoc/pkg/docstore"
	"clusterdoc/storage"
)

// openStorage opens the raw key-value storage for the local backends.
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryKV(), nil
	case config.BackendBadger:
		return storage.NewBadgerStorage(cfg.DataDir)
	case config.BackendNATS:
		return storage.DialNATSStorage(ctx, cfg.NATSURL, cfg.NATSBucket)
	case config.BackendPostgres:
		return storage.NewPostgresStorage(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("backend %q has no local storage", cfg.Backend)
	}
}

// openStore returns the document store a coordinator shares with its peers.
func openStore(ctx context.Context, cfg config.StorageConfig) (docstore.Store, func() error, error) {
	if cfg.Backend == config.BackendRemote {
		c, err := client.New(cfg.RemoteAddr, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("connect %s: %w", cfg.RemoteAddr, err)
		}
		return c, c.Close, nil
	}

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return docstore.NewKV(st), st.Close, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStorage implements Storage on top of a JetStream KeyValue bucket, so
// processes on different hosts can share documents through a NATS cluster.
type NATSStorage struct {
	kv jetstream.KeyValue
	nc *nats.Conn // owned connection, nil when supplied by the caller
}

// DialNATSStorage connects to url and opens (or creates) bucket.
func DialNATSStorage(ctx context.Context, url, bucket string) (*NATSStorage, error) {
	nc, err := nats.Connect(url, nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	s, err := NewNATSStorage(ctx, nc, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.nc = nc
	return s, nil
}

// NewNATSStorage opens (or creates) bucket over an existing connection. The
// connection stays owned by the caller.
func NewNATSStorage(ctx context.Context, nc *nats.Conn, bucket string) (*NATSStorage, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	kv, err := ensureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "clusterdoc shared documents",
		History:     1,
	}, 3)
	if err != nil {
		return nil, err
	}
	return &NATSStorage{kv: kv}, nil
}

// ensureBucket creates or opens a KV bucket, retrying with backoff when several
// processes race to create it.
func ensureBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig, maxRetries int) (jetstream.KeyValue, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}
		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err = js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w", cfg.Bucket, maxRetries, lastErr)
}

// Close closes the connection if this storage dialed it.
func (s *NATSStorage) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

func (s *NATSStorage) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.kv.Put(ctx, key, value)
	return err
}

func (s *NATSStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

func (s *NATSStorage) Delete(ctx context.Context, keys ...string) (int, error) {
	deleted := 0
	for _, key := range keys {
		ok, err := s.Exists(ctx, key)
		if err != nil {
			return deleted, err
		}
		if !ok {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *NATSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *NATSStorage) Keys(ctx context.Context, pattern string, limit int) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, err
	}
	defer func() { _ = lister.Stop() }()

	keys := make([]string, 0)
	for key := range lister.Keys() {
		if !matchPattern(pattern, key) {
			continue
		}
		keys = append(keys, key)
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, nil
}

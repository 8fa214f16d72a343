package storage

import (
	"context"
	"strings"
)

// Storage defines the key-value backend that shared documents are persisted in.
type Storage interface {
	// Key-Value operations
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string, limit int) ([]string, error)

	// Lifecycle
	Close() error
}

// matchPattern reports whether key matches a glob-like pattern where '*' may
// appear at the start and/or the end. An empty pattern or "*" matches everything.
func matchPattern(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	p := strings.Trim(pattern, "*")
	anchoredStart := !strings.HasPrefix(pattern, "*")
	anchoredEnd := !strings.HasSuffix(pattern, "*")
	switch {
	case anchoredStart && anchoredEnd:
		return key == p
	case anchoredStart:
		return strings.HasPrefix(key, p)
	case anchoredEnd:
		return strings.HasSuffix(key, p)
	default:
		return strings.Contains(key, p)
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStorage implements Storage using BadgerDB
type BadgerStorage struct {
	db   *badger.DB
	stop chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewBadgerStorage opens (or creates) a BadgerDB under dataDir.
func NewBadgerStorage(dataDir string) (*BadgerStorage, error) {
	return openBadger(badger.DefaultOptions(dataDir))
}

// NewInMemoryBadgerStorage opens a BadgerDB that keeps everything in memory.
func NewInMemoryBadgerStorage() (*BadgerStorage, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStorage, error) {
	opts = opts.
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerStorage{db: db, stop: make(chan struct{})}
	if !opts.InMemory {
		go s.runGC()
	}
	return s, nil
}

// runGC runs the value log garbage collector periodically
func (s *BadgerStorage) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing worth collecting.
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

// Close stops background GC and closes the database. Later calls return the
// first call's result.
func (s *BadgerStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// Set stores a key-value pair
func (s *BadgerStorage) Set(ctx context.Context, key string, value []byte) error {
	_ = ctx
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Get retrieves a value by key
func (s *BadgerStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	var value []byte
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		found = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Delete removes one or more keys and reports how many existed.
func (s *BadgerStorage) Delete(ctx context.Context, keys ...string) (int, error) {
	_ = ctx
	deleted := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if _, err := txn.Get([]byte(key)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Exists checks if a key exists
func (s *BadgerStorage) Exists(ctx context.Context, key string) (bool, error) {
	_ = ctx
	var exists bool

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			exists = true
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})

	return exists, err
}

// Keys lists keys matching pattern, up to limit (0 means unlimited).
func (s *BadgerStorage) Keys(ctx context.Context, pattern string, limit int) ([]string, error) {
	_ = ctx
	keys := make([]string, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().KeyCopy(nil))
			if !matchPattern(pattern, key) {
				continue
			}
			keys = append(keys, key)
			if limit > 0 && len(keys) >= limit {
				break
			}
		}
		return nil
	})

	return keys, err
}

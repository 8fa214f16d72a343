package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"clusterdoc/storage"
)

// KV stores each document as one JSON value in a storage.Storage.
//
// Update is a read-merge-write guarded by a mutex local to this KV, so two
// updates issued through the same KV never interleave. Writers in other
// processes are not coordinated.
type KV struct {
	mu sync.Mutex
	st storage.Storage
}

// NewKV returns a document store backed by st.
func NewKV(st storage.Storage) *KV {
	return &KV{st: st}
}

// Underlying exposes the raw storage.
func (k *KV) Underlying() storage.Storage { return k.st }

func (k *KV) Get(ctx context.Context, id string) (Source, error) {
	return k.load(ctx, id)
}

func (k *KV) Update(ctx context.Context, id string, fields map[string]any) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnavailable, id, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	doc, err := k.load(ctx, id)
	if err != nil {
		return err
	}
	for name, raw := range encoded {
		doc[name] = raw
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnavailable, id, err)
	}
	if err := k.st.Set(ctx, id, body); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, id, err)
	}
	return nil
}

func (k *KV) load(ctx context.Context, id string) (Source, error) {
	body, found, err := k.st.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, id, err)
	}
	doc := make(Source)
	if !found || len(body) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, id, err)
	}
	if doc == nil {
		doc = make(Source)
	}
	return doc, nil
}

// Package docstore provides key-addressed JSON documents with a get and a
// partial-update contract. Updates replace the named top-level fields and leave
// every other field of the stored document untouched.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable wraps every transport, storage or decoding failure.
var ErrUnavailable = errors.New("document store unavailable")

// Source is the raw body of a document, keyed by top-level field.
type Source map[string]json.RawMessage

// Store is a document store.
type Store interface {
	// Get returns the document stored under id. A missing document yields an
	// empty Source and no error.
	Get(ctx context.Context, id string) (Source, error)
	// Update merges fields into the document stored under id, creating it
	// when missing. Each value is JSON encoded.
	Update(ctx context.Context, id string, fields map[string]any) error
}

// Decode unmarshals field into v. Absent or null fields leave v untouched.
func (s Source) Decode(field string, v any) error {
	raw, ok := s[field]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// encodeFields turns update values into raw JSON.
func encodeFields(fields map[string]any) (Source, error) {
	out := make(Source, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return out, nil
}

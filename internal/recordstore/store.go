// Package recordstore defines the generic record store the aggregation engine
// persists into: records are flat documents addressed by collection and id,
// written as drafts and made visible to readers by Publish.
package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no published record exists for the id
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned by Create when the id is already taken
	ErrDuplicate = errors.New("record already exists")
	// ErrVersionConflict is returned by a conditional Update whose precondition failed
	ErrVersionConflict = errors.New("record version conflict")
)

// Fields holds a record's top-level fields as raw JSON values
type Fields map[string]json.RawMessage

// Set encodes value under key
func (f Fields) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal field %s: %w", key, err)
	}
	f[key] = raw
	return nil
}

// Decode decodes the value stored under key into dst.
// It returns false without error when the key is absent or null.
func (f Fields) Decode(key string, dst any) (bool, error) {
	raw, ok := f[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("failed to decode field %s: %w", key, err)
	}
	return true, nil
}

// Clone returns a shallow copy of the field map
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is a published document as seen by readers
type Record struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Fields     Fields    `json:"fields"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the record store consumed by the stats repositories.
// Reads observe published state only and may lag behind writes.
type Store interface {
	// FetchByID returns the published record or ErrNotFound
	FetchByID(ctx context.Context, collection, id string) (*Record, error)

	// Query returns published records whose string field equals value
	Query(ctx context.Context, collection, field, value string) ([]*Record, error)

	// Create stores a new draft. An empty id asks the store to generate one.
	// Returns ErrDuplicate if the id already exists.
	Create(ctx context.Context, collection, id string, fields Fields) (string, error)

	// Update merges fields into the draft and returns the new version.
	// A positive ifVersion makes the write conditional on the current draft
	// version and yields ErrVersionConflict on mismatch.
	Update(ctx context.Context, collection, id string, fields Fields, ifVersion int64) (int64, error)

	// Publish makes the current draft visible to readers
	Publish(ctx context.Context, collection, id string) error

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error
}

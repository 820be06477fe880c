// Package reconcile merges a live backend value with the durable cache.
//
// A live value, once delivered, is ground truth: it is surfaced at once and
// written back to the store as an Envelope. While no live value is present
// the last cached envelope is served instead, so a consumer never drops
// back to "nothing" after having seen data.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/runger/storykit/internal/storage"
)

// Envelope wraps a cached value with its last write time.
// UpdatedAt is informational; it is never used to pick between values.
type Envelope[T any] struct {
	Value     T         `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Load reads and decodes the envelope stored under key.
// Returns storage.ErrNotFound when nothing is cached.
func Load[T any](ctx context.Context, store storage.Store, key string) (*Envelope[T], error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var env Envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope %q: %w", key, err)
	}
	return &env, nil
}

// Save writes value under key wrapped in an envelope stamped with at.
func Save[T any](ctx context.Context, store storage.Store, key string, value T, at time.Time) error {
	data, err := json.Marshal(Envelope[T]{Value: value, UpdatedAt: at})
	if err != nil {
		return fmt.Errorf("encode envelope %q: %w", key, err)
	}
	return store.Set(ctx, key, data)
}

// Package storage provides SQLite-based durable key/value storage for storykit.
// It backs the reconciler's envelope cache, the wardrobe pending slot and
// the outfit record.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("key not found")

// Store defines the durable cache operations.
// Values are opaque bytes; callers own the encoding.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// CompareAndSwap writes next only if the stored value equals prev.
	// A nil prev means the key must be absent. It reports whether the
	// write happened.
	CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error)

	// CompareAndDelete removes key only if its value equals prev.
	CompareAndDelete(ctx context.Context, key string, prev []byte) (bool, error)

	// Prefix operations
	Keys(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) (int64, error)

	// Lifecycle
	Close() error
}

// Entry is a stored value with its write time.
type Entry struct {
	Key             string
	Value           []byte
	UpdatedAtUnixMs int64
}

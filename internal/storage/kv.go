package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var errKeyRequired = errors.New("key is required")

// Get retrieves the value stored under key.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.GetEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// GetEntry retrieves the value stored under key along with its write time.
func (s *SQLiteStore) GetEntry(ctx context.Context, key string) (*Entry, error) {
	if key == "" {
		return nil, errKeyRequired
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT key, value, updated_at_unix_ms FROM kv WHERE key = ?
	`, key)

	var entry Entry
	if err := row.Scan(&entry.Key, &entry.Value, &entry.UpdatedAtUnixMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return &entry, nil
}

// Set stores or replaces the value under key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errKeyRequired
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at_unix_ms) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at_unix_ms = excluded.updated_at_unix_ms
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errKeyRequired
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes next under key only if the current value equals prev.
// A nil prev requires the key to be absent. The check and the write happen
// in a single statement, so two processes sharing the database cannot both
// succeed against the same prev.
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	if key == "" {
		return false, errKeyRequired
	}
	if next == nil {
		next = []byte{}
	}
	now := time.Now().UnixMilli()

	var (
		result sql.Result
		err    error
	)
	if prev == nil {
		result, err = s.db.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at_unix_ms) VALUES (?, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, next, now)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE kv SET value = ?, updated_at_unix_ms = ?
			WHERE key = ? AND value = ?
		`, next, now, key, prev)
	}
	if err != nil {
		return false, fmt.Errorf("failed to swap %q: %w", key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// CompareAndDelete removes key only if the current value equals prev.
func (s *SQLiteStore) CompareAndDelete(ctx context.Context, key string, prev []byte) (bool, error) {
	if key == "" {
		return false, errKeyRequired
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM kv WHERE key = ? AND value = ?
	`, key, prev)
	if err != nil {
		return false, fmt.Errorf("failed to delete %q: %w", key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// Keys lists keys starting with prefix, in lexical order.
// An empty prefix lists every key.
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE substr(key, 1, length(?)) = ?
		ORDER BY key
	`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeletePrefix removes every key starting with prefix.
// Returns the number of entries removed.
func (s *SQLiteStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, errors.New("prefix is required")
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM kv WHERE substr(key, 1, length(?)) = ?
	`, prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to delete prefix %q: %w", prefix, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

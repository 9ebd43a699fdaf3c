package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys for the typed key-value state.
const (
	KeyRateState   = "rate_limit_state"
	KeyLastUpdate  = "last_update_at"
	KeyCurrentFeed = "current_feed"
)

// WriteError wraps a failed persistence write. In-memory state stays valid
// for the session; callers surface the warning and carry on.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage write failed: %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// GetValue reads a JSON-encoded value from the kv table, returning def when
// the key is absent.
func GetValue[T any](ctx context.Context, db *sql.DB, key string, def T) (T, error) {
	ctx = contextOrBackground(ctx)

	var raw string

	err := db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("read kv %q: %w", key, err)
	}

	var value T

	err = json.Unmarshal([]byte(raw), &value)
	if err != nil {
		// A corrupt value behaves like a missing one rather than poisoning
		// every read after it.
		return def, fmt.Errorf("decode kv %q: %w", key, err)
	}

	return value, nil
}

// SetValue writes a JSON-encoded value into the kv table.
func SetValue[T any](ctx context.Context, db *sql.DB, key string, value T) error {
	ctx = contextOrBackground(ctx)

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode kv %q: %w", key, err)
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO kv (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(encoded))
	if err != nil {
		return &WriteError{Op: fmt.Sprintf("set kv %q", key), Err: err}
	}

	return nil
}

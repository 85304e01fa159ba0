package store

import (
	"context"
	"database/sql"
	"time"
)

// GetState retrieves a state value by key.
// Returns empty string if key doesn't exist.
func (db *DB) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, db.rebind(`
		SELECT value FROM kv_state WHERE key = ?
	`), key).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState sets a state value
func (db *DB) SetState(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO kv_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`), key, value, time.Now().Unix())
	return err
}

// DeleteState removes a state value
func (db *DB) DeleteState(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, db.rebind(`DELETE FROM kv_state WHERE key = ?`), key)
	return err
}

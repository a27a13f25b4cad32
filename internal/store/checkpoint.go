package store

import (
	"database/sql"
	"errors"
	"time"
)

// SetCheckpoint stores a named progress marker.
func (db *DB) SetCheckpoint(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO checkpoints (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Checkpoint returns a named marker. ok is false if it was never set.
func (db *DB) Checkpoint(key string) (value string, ok bool, err error) {
	err = db.QueryRow(`SELECT value FROM checkpoints WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

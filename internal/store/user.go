package store

import (
	"time"

	"github.com/matheus3301/parley/internal/presence"
)

// UpsertUser inserts or updates a user record with its last heartbeat.
func (db *DB) UpsertUser(u presence.User) error {
	_, err := db.Exec(`
		INSERT INTO users (id, display_name, avatar_url, status, activity, level, xp, removed, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			status = excluded.status,
			activity = excluded.activity,
			level = excluded.level,
			xp = excluded.xp,
			removed = excluded.removed,
			last_seen = MAX(users.last_seen, excluded.last_seen),
			updated_at = excluded.updated_at`,
		u.ID, u.DisplayName, u.AvatarURL, string(u.Status), u.Activity, u.Level, u.XP, u.Removed,
		u.LastSeen.UnixMilli(), time.Now().UnixMilli())
	return err
}

// ListUsers returns all users ordered by ID.
func (db *DB) ListUsers() ([]presence.User, error) {
	rows, err := db.Query(`
		SELECT id, display_name, avatar_url, status, activity, level, xp, removed, last_seen
		FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []presence.User
	for rows.Next() {
		var u presence.User
		var status string
		var lastSeen int64
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &status, &u.Activity, &u.Level, &u.XP, &u.Removed, &lastSeen); err != nil {
			return nil, err
		}
		u.Status = presence.Status(status)
		if lastSeen > 0 {
			u.LastSeen = time.UnixMilli(lastSeen)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

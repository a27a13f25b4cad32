package store

import (
	"time"

	"github.com/matheus3301/parley/internal/directory"
)

// InsertChannel stores a channel. Channels are immutable apart from their name.
func (db *DB) InsertChannel(c directory.Channel) error {
	_, err := db.Exec(`
		INSERT INTO channels (id, name, kind, server_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name, string(c.Kind), c.ServerID, c.CreatedAt.UnixMilli())
	return err
}

// ListChannels returns all channels ordered by ID.
func (db *DB) ListChannels() ([]directory.Channel, error) {
	rows, err := db.Query(`SELECT id, name, kind, server_id, created_at FROM channels ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []directory.Channel
	for rows.Next() {
		var c directory.Channel
		var kind string
		var created int64
		if err := rows.Scan(&c.ID, &c.Name, &kind, &c.ServerID, &created); err != nil {
			return nil, err
		}
		c.Kind = directory.Kind(kind)
		c.CreatedAt = time.UnixMilli(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

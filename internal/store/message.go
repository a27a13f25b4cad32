package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/msglog"
)

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

const upsertMessageSQL = `
	INSERT INTO messages (channel_id, msg_id, seq, tie, sender_id, kind, body, url, reply_to, payload, deleted, edited_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(channel_id, msg_id) DO UPDATE SET
		body = excluded.body,
		url = excluded.url,
		payload = excluded.payload,
		deleted = excluded.deleted,
		edited_at = excluded.edited_at`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertMessage(x execer, m msglog.Message) error {
	payload, err := encodePayload(m)
	if err != nil {
		return err
	}
	_, err = x.Exec(upsertMessageSQL,
		m.ChannelID, m.ID, m.Key.Seq, m.Key.Tie, m.SenderID, string(m.Body.Kind), m.Body.Text, m.Body.URL,
		m.ReplyTo, payload, m.Deleted, unixMilliOrZero(m.EditedAt), m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return nil
}

// UpsertMessage inserts or updates a durably accepted message (idempotent on
// channel_id + msg_id).
func (db *DB) UpsertMessage(m msglog.Message) error {
	return upsertMessage(db.DB, m)
}

// UpsertMessages writes a batch of messages in one transaction.
func (db *DB) UpsertMessages(msgs []msglog.Message) error {
	return db.withTx(func(tx *sql.Tx) error {
		for _, m := range msgs {
			if err := upsertMessage(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMessages returns up to limit of the latest messages in a channel,
// deleted ones included, in ascending key order.
func (db *DB) ListMessages(channelID string, limit int) ([]msglog.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(`
		SELECT * FROM (
			SELECT msg_id, seq, tie, sender_id, kind, body, url, reply_to, payload, deleted, edited_at, created_at
			FROM messages
			WHERE channel_id = ?
			ORDER BY seq DESC, tie DESC
			LIMIT ?
		) ORDER BY seq ASC, tie ASC`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []msglog.Message
	for rows.Next() {
		m := msglog.Message{ChannelID: channelID, Status: msglog.Sent}
		var kind string
		var payload []byte
		var edited, created int64
		if err := rows.Scan(&m.ID, &m.Key.Seq, &m.Key.Tie, &m.SenderID, &kind, &m.Body.Text, &m.Body.URL,
			&m.ReplyTo, &payload, &m.Deleted, &edited, &created); err != nil {
			return nil, err
		}
		m.Body.Kind = msglog.Kind(kind)
		m.EditedAt = timeOrZero(edited)
		m.CreatedAt = time.UnixMilli(created)
		if err := decodePayload(payload, &m); err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageChannels returns the IDs of channels that have stored messages.
func (db *DB) MessageChannels() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT channel_id FROM messages ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

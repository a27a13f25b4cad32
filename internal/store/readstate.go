package store

import (
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/readstate"
)

// UpsertReadPointer stores a read pointer. The stored pointer never moves
// backwards, even if writes arrive out of order.
func (db *DB) UpsertReadPointer(p readstate.Pointer) error {
	_, err := db.Exec(`
		INSERT INTO read_state (user_id, channel_id, msg_id, seq, tie, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, channel_id) DO UPDATE SET
			msg_id = excluded.msg_id,
			seq = excluded.seq,
			tie = excluded.tie,
			updated_at = excluded.updated_at
		WHERE excluded.seq > read_state.seq
			OR (excluded.seq = read_state.seq AND excluded.tie > read_state.tie)`,
		p.UserID, p.ChannelID, p.MessageID, p.Key.Seq, p.Key.Tie, unixMilliOrZero(p.UpdatedAt))
	return err
}

// ListReadPointers returns every stored read pointer.
func (db *DB) ListReadPointers() ([]readstate.Pointer, error) {
	rows, err := db.Query(`SELECT user_id, channel_id, msg_id, seq, tie, updated_at FROM read_state`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []readstate.Pointer
	for rows.Next() {
		var p readstate.Pointer
		var updated int64
		if err := rows.Scan(&p.UserID, &p.ChannelID, &p.MessageID, &p.Key.Seq, &p.Key.Tie, &updated); err != nil {
			return nil, err
		}
		p.UpdatedAt = timeOrZero(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}


// RekeyReadPointers moves pointers that reference a provisional message ID to
// the message's confirmed ID and key.
func (db *DB) RekeyReadPointers(provisionalID string, m msglog.Message) (int64, error) {
	res, err := db.Exec(`
		UPDATE read_state SET msg_id = ?, seq = ?, tie = ?
		WHERE channel_id = ? AND msg_id = ?`,
		m.ID, m.Key.Seq, m.Key.Tie, m.ChannelID, provisionalID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

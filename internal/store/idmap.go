package store

import (
	"time"

	"github.com/matheus3301/parley/internal/delivery"
)

// SaveMapping records the final identity of a provisional message.
func (db *DB) SaveMapping(channelID string, m delivery.Mapping) error {
	_, err := db.Exec(`
		INSERT INTO id_map (provisional_id, final_id, channel_id, seq, tie, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provisional_id) DO NOTHING`,
		m.ProvisionalID, m.FinalID, channelID, m.FinalKey.Seq, m.FinalKey.Tie, m.ConfirmedAt.UnixMilli())
	return err
}

// ListMappings returns mappings confirmed at or after since.
func (db *DB) ListMappings(since time.Time) ([]delivery.Mapping, error) {
	rows, err := db.Query(`
		SELECT provisional_id, final_id, seq, tie, confirmed_at
		FROM id_map WHERE confirmed_at >= ? ORDER BY confirmed_at`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []delivery.Mapping
	for rows.Next() {
		var m delivery.Mapping
		var confirmed int64
		if err := rows.Scan(&m.ProvisionalID, &m.FinalID, &m.FinalKey.Seq, &m.FinalKey.Tie, &confirmed); err != nil {
			return nil, err
		}
		m.ConfirmedAt = time.UnixMilli(confirmed)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneMappings deletes mappings confirmed before cutoff.
func (db *DB) PruneMappings(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM id_map WHERE confirmed_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package store

import "time"

// AddTextMember records a user in a text channel's audience.
func (db *DB) AddTextMember(channelID, userID string) error {
	_, err := db.Exec(`
		INSERT INTO text_members (channel_id, user_id, joined_at) VALUES (?, ?, ?)
		ON CONFLICT(channel_id, user_id) DO NOTHING`,
		channelID, userID, time.Now().UnixMilli())
	return err
}

// RemoveTextMember drops a user from a text channel's audience.
func (db *DB) RemoveTextMember(channelID, userID string) error {
	_, err := db.Exec(`DELETE FROM text_members WHERE channel_id = ? AND user_id = ?`, channelID, userID)
	return err
}

// ListTextMembers returns audiences keyed by channel.
func (db *DB) ListTextMembers() (map[string][]string, error) {
	rows, err := db.Query(`SELECT channel_id, user_id FROM text_members ORDER BY channel_id, user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var ch, user string
		if err := rows.Scan(&ch, &user); err != nil {
			return nil, err
		}
		out[ch] = append(out[ch], user)
	}
	return out, rows.Err()
}

package store

import (
	"time"

	"pigeon/internal/wire"
)

// UpsertContact inserts or updates a conversation row (idempotent on
// room_id).
func (db *DB) UpsertContact(c *wire.ContactDetail) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (room_id, name, avatar, room_type, last_text, unread_count, active_time, pin_time, last_msg_id, self_exist, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			name = excluded.name,
			avatar = excluded.avatar,
			last_text = excluded.last_text,
			unread_count = excluded.unread_count,
			active_time = excluded.active_time,
			pin_time = excluded.pin_time,
			last_msg_id = excluded.last_msg_id,
			self_exist = excluded.self_exist,
			updated_at = excluded.updated_at`,
		c.RoomID, c.Name, c.Avatar, c.Type, c.Text, c.UnreadCount,
		c.ActiveTime, c.PinTime, c.LastMsgID, c.SelfExist, now)
	return err
}

// DeleteContact removes a conversation and its stored messages.
func (db *DB) DeleteContact(roomID int64) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM contacts WHERE room_id = ?`, roomID)
	return err
}

// ListContacts returns every stored conversation, pinned first, then by
// recent activity.
func (db *DB) ListContacts() ([]wire.ContactDetail, error) {
	rows, err := db.Query(`
		SELECT room_id, name, avatar, room_type, last_text, unread_count, active_time, pin_time, last_msg_id, self_exist
		FROM contacts
		ORDER BY pin_time DESC, active_time DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []wire.ContactDetail
	for rows.Next() {
		var c wire.ContactDetail
		if err := rows.Scan(&c.RoomID, &c.Name, &c.Avatar, &c.Type, &c.Text,
			&c.UnreadCount, &c.ActiveTime, &c.PinTime, &c.LastMsgID, &c.SelfExist); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

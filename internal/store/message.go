package store

import (
	"time"

	"pigeon/internal/wire"
)

// UpsertMessage inserts or updates a message (idempotent on room_id +
// msg_id). Recalls and deletes overwrite content via the same path.
func (db *DB) UpsertMessage(m *wire.ChatMessage) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (room_id, msg_id, sender_id, sender_name, content, message_type, send_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			message_type = excluded.message_type`,
		m.Message.RoomID, m.Message.ID, m.FromUser.UserID, m.FromUser.Nickname,
		m.Message.Content, m.Message.Type, m.Message.SendTime, now)
	return err
}

// DeleteMessage removes a single message row.
func (db *DB) DeleteMessage(roomID, msgID int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE room_id = ? AND msg_id = ?`, roomID, msgID)
	return err
}

// ListMessages returns messages for a room using keyset pagination by
// send time, oldest first within the returned page.
func (db *DB) ListMessages(roomID int64, beforeTime int64, limit int) ([]wire.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTime <= 0 {
		beforeTime = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT room_id, msg_id, sender_id, sender_name, content, message_type, send_time
		FROM messages
		WHERE room_id = ? AND send_time < ?
		ORDER BY send_time DESC
		LIMIT ?`, roomID, beforeTime, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []wire.ChatMessage
	for rows.Next() {
		var m wire.ChatMessage
		if err := rows.Scan(&m.Message.RoomID, &m.Message.ID, &m.FromUser.UserID,
			&m.FromUser.Nickname, &m.Message.Content, &m.Message.Type, &m.Message.SendTime); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	// Reverse into chronological order for display.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, rows.Err()
}

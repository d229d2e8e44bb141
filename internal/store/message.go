package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on chat_id + msg_key).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (chat_id, msg_key, temporary, sender_id, sender_name, body, message_type, from_me, timestamp, edited_at, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_key) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			edited_at = excluded.edited_at,
			deleted_at = excluded.deleted_at`,
		m.ChatID, m.Key, m.Temporary, m.SenderID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Timestamp, m.EditedAt, m.DeletedAt, now)
	return err
}

// ReplaceMessage swaps an optimistic message for its server-confirmed copy
// in one transaction, re-keying any status events and read receipts that
// were recorded under the temporary key.
func (db *DB) ReplaceMessage(chatID, tempKey string, final *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ? AND msg_key = ? AND temporary = 1`, chatID, tempKey); err != nil {
		return fmt.Errorf("delete optimistic: %w", err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (chat_id, msg_key, temporary, sender_id, sender_name, body, message_type, from_me, timestamp, edited_at, deleted_at, created_at)
		VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_key) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			edited_at = excluded.edited_at,
			deleted_at = excluded.deleted_at`,
		final.ChatID, final.Key, final.SenderID, final.SenderName, final.Body, final.MessageType, final.FromMe, final.Timestamp, final.EditedAt, final.DeletedAt, now); err != nil {
		return fmt.Errorf("insert final: %w", err)
	}

	if _, err := tx.Exec(`UPDATE message_statuses SET msg_key = ? WHERE msg_key = ?`, final.Key, tempKey); err != nil {
		return fmt.Errorf("rekey statuses: %w", err)
	}
	if _, err := tx.Exec(`UPDATE OR IGNORE read_receipts SET msg_key = ? WHERE msg_key = ?`, final.Key, tempKey); err != nil {
		return fmt.Errorf("rekey receipts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// GetMessage returns a single message by chat and key, or nil if unknown.
func (db *DB) GetMessage(chatID, key string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, chat_id, msg_key, temporary, sender_id, sender_name, body, message_type, from_me, timestamp, edited_at, deleted_at
		FROM messages WHERE chat_id = ? AND msg_key = ?`, chatID, key).
		Scan(&m.RowID, &m.ChatID, &m.Key, &m.Temporary, &m.SenderID, &m.SenderName, &m.Body, &m.MessageType, &m.FromMe, &m.Timestamp, &m.EditedAt, &m.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages for a chat using keyset pagination by timestamp.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_id, msg_key, temporary, sender_id, sender_name, body, message_type, from_me, timestamp, edited_at, deleted_at
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.RowID, &m.ChatID, &m.Key, &m.Temporary, &m.SenderID, &m.SenderName, &m.Body, &m.MessageType, &m.FromMe, &m.Timestamp, &m.EditedAt, &m.DeletedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecentMessages returns the newest messages for a chat in ascending
// timestamp order, the shape the merge engine works with.
func (db *DB) RecentMessages(chatID string, limit int) ([]Message, error) {
	msgs, err := db.ListMessages(chatID, 0, limit)
	if err != nil {
		return nil, err
	}
	// ListMessages is newest-first; reverse into ascending order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

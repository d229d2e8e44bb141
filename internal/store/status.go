package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// AppendStatus appends one event to a message's delivery status log.
func (db *DB) AppendStatus(rec *StatusRecord) error {
	_, err := db.Exec(`
		INSERT INTO message_statuses (id, msg_key, status, user_id, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.MsgKey, rec.Status, rec.UserID, rec.Timestamp)
	return err
}

// LatestStatus returns the most recent status event for a message by
// timestamp, or nil if none has been recorded. Events in the same
// millisecond (sending then sent is the common case) tie-break on
// insertion order via rowid.
func (db *DB) LatestStatus(msgKey string) (*StatusRecord, error) {
	var rec StatusRecord
	err := db.QueryRow(`
		SELECT id, msg_key, status, user_id, timestamp
		FROM message_statuses
		WHERE msg_key = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1`, msgKey).
		Scan(&rec.ID, &rec.MsgKey, &rec.Status, &rec.UserID, &rec.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestStatuses returns the most recent status event per message for the
// given keys. Callers are responsible for keeping len(keys) within backend
// fan-out limits; the delivery store chunks before calling.
func (db *DB) LatestStatuses(keys []string) (map[string]StatusRecord, error) {
	if len(keys) == 0 {
		return map[string]StatusRecord{}, nil
	}
	placeholders := strings.Repeat("?,", len(keys)-1) + "?"
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := db.Query(`
		SELECT id, msg_key, status, user_id, timestamp
		FROM message_statuses
		WHERE msg_key IN (`+placeholders+`)
		ORDER BY timestamp ASC, rowid ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]StatusRecord, len(keys))
	for rows.Next() {
		var rec StatusRecord
		if err := rows.Scan(&rec.ID, &rec.MsgKey, &rec.Status, &rec.UserID, &rec.Timestamp); err != nil {
			return nil, err
		}
		// Ascending scan: the last record seen per key has the greatest
		// timestamp, with insertion order breaking millisecond ties.
		out[rec.MsgKey] = rec
	}
	return out, rows.Err()
}

// StatusLog returns the full status event log for a message, oldest first.
func (db *DB) StatusLog(msgKey string) ([]StatusRecord, error) {
	rows, err := db.Query(`
		SELECT id, msg_key, status, user_id, timestamp
		FROM message_statuses
		WHERE msg_key = ?
		ORDER BY timestamp ASC, rowid ASC`, msgKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []StatusRecord
	for rows.Next() {
		var rec StatusRecord
		if err := rows.Scan(&rec.ID, &rec.MsgKey, &rec.Status, &rec.UserID, &rec.Timestamp); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// MarkRead applies a batch of read status events and their matching read
// receipts in a single transaction. Either the whole batch lands or none
// of it does.
func (db *DB) MarkRead(records []StatusRecord, receipts []ReadReceipt) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		if _, err := tx.Exec(`
			INSERT INTO message_statuses (id, msg_key, status, user_id, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			rec.ID, rec.MsgKey, rec.Status, rec.UserID, rec.Timestamp); err != nil {
			return fmt.Errorf("append read status: %w", err)
		}
	}
	for _, rc := range receipts {
		if _, err := tx.Exec(`
			INSERT INTO read_receipts (msg_key, user_id, read_at)
			VALUES (?, ?, ?)
			ON CONFLICT(msg_key, user_id) DO UPDATE SET read_at = excluded.read_at`,
			rc.MsgKey, rc.UserID, rc.ReadAt); err != nil {
			return fmt.Errorf("upsert receipt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark read: %w", err)
	}
	return nil
}

// CountReaders returns how many distinct users other than the sender have
// a read receipt for the message.
func (db *DB) CountReaders(msgKey, senderID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(DISTINCT user_id) FROM read_receipts
		WHERE msg_key = ? AND user_id != ?`, msgKey, senderID).Scan(&n)
	return n, err
}

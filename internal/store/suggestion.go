package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertSuggestion persists a new suggestion record.
func (db *DB) InsertSuggestion(s *Suggestion) error {
	_, err := db.Exec(`
		INSERT INTO suggestions (id, user_id, chat_id, msg_key, type, status, title, description, metadata, created_at, confirmed_at, rejected_at, executed_at, execution_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.ChatID, s.MsgKey, s.Type, s.Status, s.Title, s.Description, s.Metadata,
		s.CreatedAt, s.ConfirmedAt, s.RejectedAt, s.ExecutedAt, s.ExecutionResult)
	return err
}

// GetSuggestion returns a suggestion by id, or nil if unknown.
func (db *DB) GetSuggestion(id string) (*Suggestion, error) {
	var s Suggestion
	err := db.QueryRow(`
		SELECT id, user_id, chat_id, msg_key, type, status, title, description, metadata, created_at, confirmed_at, rejected_at, executed_at, execution_result
		FROM suggestions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &s.ChatID, &s.MsgKey, &s.Type, &s.Status, &s.Title, &s.Description, &s.Metadata,
			&s.CreatedAt, &s.ConfirmedAt, &s.RejectedAt, &s.ExecutedAt, &s.ExecutionResult)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSuggestions returns a user's suggestions, newest first.
func (db *DB) ListSuggestions(userID string, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, user_id, chat_id, msg_key, type, status, title, description, metadata, created_at, confirmed_at, rejected_at, executed_at, execution_result
		FROM suggestions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Suggestion
	for rows.Next() {
		var s Suggestion
		if err := rows.Scan(&s.ID, &s.UserID, &s.ChatID, &s.MsgKey, &s.Type, &s.Status, &s.Title, &s.Description, &s.Metadata,
			&s.CreatedAt, &s.ConfirmedAt, &s.RejectedAt, &s.ExecutedAt, &s.ExecutionResult); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TransitionSuggestion applies a user- or pipeline-driven status change.
// Allowed: pending -> confirmed | rejected, confirmed -> executed.
func (db *DB) TransitionSuggestion(id, to, executionResult string) error {
	now := time.Now().UnixMilli()
	var res sql.Result
	var err error
	switch to {
	case SuggestionConfirmed:
		res, err = db.Exec(`UPDATE suggestions SET status = ?, confirmed_at = ? WHERE id = ? AND status = ?`,
			to, now, id, SuggestionPending)
	case SuggestionRejected:
		res, err = db.Exec(`UPDATE suggestions SET status = ?, rejected_at = ? WHERE id = ? AND status = ?`,
			to, now, id, SuggestionPending)
	case SuggestionExecuted:
		res, err = db.Exec(`UPDATE suggestions SET status = ?, executed_at = ?, execution_result = ? WHERE id = ? AND status = ?`,
			to, now, executionResult, id, SuggestionConfirmed)
	default:
		return fmt.Errorf("invalid suggestion status %q", to)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("suggestion %s: no valid transition to %s", id, to)
	}
	return nil
}

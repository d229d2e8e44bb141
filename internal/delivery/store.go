// Package delivery tracks per-message delivery and read state: an
// append-only status event log where the record with the greatest
// timestamp is authoritative.
package delivery

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/store"
)

// batchChunkSize bounds per-query fan-out when looking up many messages.
const batchChunkSize = 10

// Store records and serves message delivery status.
type Store struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewStore creates a delivery state store.
func NewStore(db *store.DB, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, bus: b, logger: logger}
}

// RecordStatus appends one event to a message's status log and publishes
// the change.
func (s *Store) RecordStatus(msgKey, status, userID string) (*store.StatusRecord, error) {
	rec := &store.StatusRecord{
		ID:        uuid.NewString(),
		MsgKey:    msgKey,
		Status:    status,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.db.AppendStatus(rec); err != nil {
		return nil, fmt.Errorf("record status %s for %s: %w", status, msgKey, err)
	}
	s.publish(rec)
	return rec, nil
}

// LatestStatus returns the most recent status event for a message, or nil
// if none has been recorded.
func (s *Store) LatestStatus(msgKey string) (*store.StatusRecord, error) {
	return s.db.LatestStatus(msgKey)
}

// BatchStatuses returns the latest status per message. Lookups are chunked
// to stay inside backend query fan-out limits and merged latest-wins.
func (s *Store) BatchStatuses(msgKeys []string) (map[string]store.StatusRecord, error) {
	out := make(map[string]store.StatusRecord, len(msgKeys))
	for start := 0; start < len(msgKeys); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(msgKeys) {
			end = len(msgKeys)
		}
		chunk, err := s.db.LatestStatuses(msgKeys[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch statuses [%d:%d]: %w", start, end, err)
		}
		for key, rec := range chunk {
			if held, ok := out[key]; !ok || rec.Timestamp > held.Timestamp {
				out[key] = rec
			}
		}
	}
	return out, nil
}

// MarkRead appends a read status event and upserts a read receipt for
// every message in one atomic batch. On failure nothing is applied and
// the caller retries the whole batch.
func (s *Store) MarkRead(msgKeys []string, userID string) error {
	if len(msgKeys) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	records := make([]store.StatusRecord, 0, len(msgKeys))
	receipts := make([]store.ReadReceipt, 0, len(msgKeys))
	for _, key := range msgKeys {
		records = append(records, store.StatusRecord{
			ID:        uuid.NewString(),
			MsgKey:    key,
			Status:    store.StatusRead,
			UserID:    userID,
			Timestamp: now,
		})
		receipts = append(receipts, store.ReadReceipt{MsgKey: key, UserID: userID, ReadAt: now})
	}
	if err := s.db.MarkRead(records, receipts); err != nil {
		return fmt.Errorf("mark read batch of %d: %w", len(msgKeys), err)
	}
	for i := range records {
		s.publish(&records[i])
	}
	return nil
}

// ReadProgress reports how many recipients other than the sender have
// read the message, against the recipient count.
func (s *Store) ReadProgress(msgKey, senderID string, participantCount int) (read, total int, err error) {
	read, err = s.db.CountReaders(msgKey, senderID)
	if err != nil {
		return 0, 0, err
	}
	total = participantCount - 1
	if total < 0 {
		total = 0
	}
	return read, total, nil
}

func (s *Store) publish(rec *store.StatusRecord) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindStatusChanged,
		Timestamp: time.Now(),
		Payload:   rec,
	})
}

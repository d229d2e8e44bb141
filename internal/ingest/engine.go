// Package ingest reconciles stream events into the local store. Incoming
// messages pass through the merge engine so an optimistic copy and its
// server confirmation never coexist.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/delivery"
	"github.com/chirpchat/chirp/internal/merge"
	"github.com/chirpchat/chirp/internal/metrics"
	"github.com/chirpchat/chirp/internal/store"
)

// mergeWindow is how many recent chat messages are loaded as the existing
// side of a merge. Bounded by pagination on the client, so a small window
// always covers the optimistic-send horizon.
const mergeWindow = 100

// Engine consumes "remote." events and applies them to the store.
type Engine struct {
	db       *store.DB
	bus      *bus.Bus
	delivery *delivery.Store
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewEngine creates an ingestion engine.
func NewEngine(db *store.DB, b *bus.Bus, d *delivery.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:       db,
		bus:      b,
		delivery: d,
		logger:   logger,
	}
}

// Start subscribes to inbound stream events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("remote.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRemoteMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_key", msg.Key))
		}
	case bus.KindRemoteStatus:
		rec, ok := evt.Payload.(*store.StatusRecord)
		if !ok {
			return
		}
		if _, err := e.delivery.RecordStatus(rec.MsgKey, rec.Status, rec.UserID); err != nil {
			e.logger.Error("failed to record stream status", zap.Error(err), zap.String("msg_key", rec.MsgKey))
		}
	case bus.KindRemoteHistory:
		msgs, ok := evt.Payload.([]*store.Message)
		if !ok {
			return
		}
		if err := e.IngestHistoryBatch(msgs); err != nil {
			e.logger.Error("failed to ingest history batch", zap.Error(err), zap.Int("count", len(msgs)))
		} else {
			e.logger.Info("history batch ingested", zap.Int("messages", len(msgs)))
		}
	}
}

// IngestMessage merges a single stream message into the chat and persists
// the outcome. Replaying the same message is a no-op.
func (e *Engine) IngestMessage(msg *store.Message) error {
	existing, err := e.db.RecentMessages(msg.ChatID, mergeWindow)
	if err != nil {
		return fmt.Errorf("load recent messages: %w", err)
	}

	res := merge.Merge(existing, []store.Message{*msg})
	metrics.MessagesMerged.Inc()

	mergedKeys := make(map[string]struct{}, len(res.Messages))
	for i := range res.Messages {
		mergedKeys[res.Messages[i].Key] = struct{}{}
	}

	if _, kept := mergedKeys[msg.Key]; !kept {
		// The incoming copy lost to an existing final. Nothing to write.
		e.logger.Debug("duplicate stream message dropped",
			zap.String("chat_id", msg.ChatID), zap.String("msg_key", msg.Key))
		return nil
	}

	// An existing key missing from the merged set was an optimistic copy
	// displaced by this message. Replacing rekeys its status history.
	replacedTemp := ""
	for i := range existing {
		if _, kept := mergedKeys[existing[i].Key]; !kept && existing[i].Temporary {
			replacedTemp = existing[i].Key
			break
		}
	}

	if replacedTemp != "" {
		if err := e.db.ReplaceMessage(msg.ChatID, replacedTemp, msg); err != nil {
			return fmt.Errorf("replace optimistic: %w", err)
		}
		metrics.OptimisticReplaced.Inc()
	} else if err := e.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	if err := e.db.UpsertChat(&store.Chat{
		ID:                 msg.ChatID,
		LastMessageAt:      msg.Timestamp,
		LastMessagePreview: truncate(msg.Body, 100),
	}); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload:   msg,
	})

	for i := range res.NewMessages {
		nm := res.NewMessages[i]
		if nm.Key != msg.Key || nm.FromMe || replacedTemp != "" {
			continue
		}
		e.bus.Publish(bus.Event{
			Kind:      bus.KindMessageNew,
			Timestamp: time.Now(),
			Payload:   msg,
		})
	}

	return nil
}

// IngestHistoryBatch writes a backfill batch in one transaction. History
// messages predate any optimistic copy, so they bypass the merge pass.
func (e *Engine) IngestHistoryBatch(msgs []*store.Message) error {
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	chatsCount := 0
	msgsCount := 0

	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO chats (id, last_message_at, last_message_preview, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
				last_message_preview = CASE WHEN excluded.last_message_at > chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
				updated_at = excluded.updated_at`,
			m.ChatID, m.Timestamp, truncate(m.Body, 100), now); err != nil {
			return fmt.Errorf("upsert chat in batch: %w", err)
		}
		chatsCount++

		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_key, temporary, sender_id, sender_name, body, message_type, from_me, timestamp, edited_at, deleted_at, created_at)
			VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, msg_key) DO UPDATE SET
				sender_name = excluded.sender_name,
				body = excluded.body,
				edited_at = excluded.edited_at,
				deleted_at = excluded.deleted_at`,
			m.ChatID, m.Key, m.SenderID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Timestamp, m.EditedAt, m.DeletedAt, now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
		msgsCount++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindHistoryIngested,
		Timestamp: time.Now(),
		Payload: map[string]int{
			"messages_count": msgsCount,
			"chats_count":    chatsCount,
		},
	})

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

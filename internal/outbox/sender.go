// Package outbox drains queued outgoing messages. A queued message is
// shown optimistically with a temporary key and a "sending" status before
// the service confirms it; the ingestion engine later swaps in the
// server copy.
package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/delivery"
	"github.com/chirpchat/chirp/internal/remote"
	"github.com/chirpchat/chirp/internal/retry"
	"github.com/chirpchat/chirp/internal/store"
)

const pollInterval = 500 * time.Millisecond

// errNotOurs tells the shared retry queue to offer the item to the next
// registered handler.
var errNotOurs = errors.New("not an outbox payload")

// resend is the retry-queue payload for a failed outbox entry.
type resend struct {
	ClientMsgID string
}

// Sender drains the outbox and sends messages via the remote transport.
type Sender struct {
	db       *store.DB
	sender   remote.MessageSender
	delivery *delivery.Store
	queue    *retry.Queue
	bus      *bus.Bus
	userID   string
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewSender creates an outbox sender. queue may be nil to disable
// automatic resends.
func NewSender(db *store.DB, sender remote.MessageSender, d *delivery.Store, queue *retry.Queue, b *bus.Bus, userID string, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		sender:   sender,
		delivery: d,
		queue:    queue,
		bus:      b,
		userID:   userID,
		logger:   logger,
	}
}

// Queue records an outgoing message and inserts its optimistic copy so it
// renders immediately with a "sending" status.
func (s *Sender) Queue(chatID, clientMsgID, body string) error {
	if err := s.db.QueueOutbox(clientMsgID, chatID, body); err != nil {
		return err
	}

	now := time.Now()
	msg := &store.Message{
		ChatID:      chatID,
		Key:         clientMsgID,
		Temporary:   true,
		SenderID:    s.userID,
		Body:        body,
		MessageType: "text",
		FromMe:      true,
		Timestamp:   now.UnixMilli(),
	}
	if err := s.db.UpsertMessage(msg); err != nil {
		return err
	}
	if _, err := s.delivery.RecordStatus(clientMsgID, store.StatusSending, s.userID); err != nil {
		// The message is queued; a missing status event degrades the UI,
		// it does not lose the send.
		s.logger.Warn("failed to record sending status", zap.Error(err), zap.String("client_msg_id", clientMsgID))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindMessageUpserted, Timestamp: now, Payload: msg})
	return nil
}

// Start begins polling the outbox for pending messages. Failed sends are
// requeued through the retry queue with backoff.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	var unregister func()
	if s.queue != nil {
		unregister = s.queue.RegisterHandler(func(item *retry.Item) error {
			r, ok := item.Payload.(*resend)
			if !ok {
				return errNotOurs
			}
			return s.db.RequeueOutbox(r.ClientMsgID)
		})
	}

	go func() {
		if unregister != nil {
			defer unregister()
		}
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.processPending(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}
		s.send(ctx, entry)
	}
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) {
	serverMsgID, err := s.sender.SendText(ctx, entry.ChatID, entry.Body)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
		if _, serr := s.delivery.RecordStatus(entry.ClientMsgID, store.StatusFailed, s.userID); serr != nil {
			s.logger.Warn("failed to record failed status", zap.Error(serr))
		}
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendFailed,
			Timestamp: time.Now(),
			Payload:   map[string]string{"client_msg_id": entry.ClientMsgID, "error": err.Error()},
		})
		if s.queue != nil {
			s.queue.Enqueue(&resend{ClientMsgID: entry.ClientMsgID},
				retry.NewError(retry.NetworkError, "send failed: "+err.Error()))
		}
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if _, err := s.delivery.RecordStatus(entry.ClientMsgID, store.StatusSent, s.userID); err != nil {
		s.logger.Warn("failed to record sent status", zap.Error(err))
	}

	s.logger.Info("message sent",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("server_msg_id", serverMsgID))
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSendAck,
		Timestamp: time.Now(),
		Payload:   map[string]string{"client_msg_id": entry.ClientMsgID, "server_msg_id": serverMsgID},
	})
}

package suggest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/analysis"
	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/config"
	"github.com/chirpchat/chirp/internal/store"
)

// Service watches for new inbound messages and runs each one through the
// analysis endpoint and the ingestor.
type Service struct {
	cfg    config.Analysis
	userID string
	client *analysis.Client
	db     *store.DB
	bus    *bus.Bus
	ing    *Ingestor
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewService wires the analysis trigger loop. client may be nil when
// analysis is disabled.
func NewService(cfg config.Analysis, userID string, client *analysis.Client, db *store.DB, b *bus.Bus, ing *Ingestor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:    cfg,
		userID: userID,
		client: client,
		db:     db,
		bus:    b,
		ing:    ing,
		logger: logger,
	}
}

// Start begins consuming new-message events. A disabled config makes Start
// a no-op.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.client == nil {
		s.logger.Info("message analysis disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	ch, unsub := s.bus.Subscribe(bus.KindMessageNew, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				msg, ok := evt.Payload.(*store.Message)
				if !ok || msg.FromMe || msg.Body == "" {
					continue
				}
				s.analyze(ctx, msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the analysis loop.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Service) analyze(ctx context.Context, msg *store.Message) {
	req := &analysis.Request{
		Message: analysis.RequestMessage{
			ID:          msg.Key,
			Text:        msg.Body,
			SenderID:    msg.SenderID,
			ChatID:      msg.ChatID,
			Timestamp:   time.UnixMilli(msg.Timestamp).UTC().Format(time.RFC3339),
			MessageType: msg.MessageType,
		},
		UserID: s.userID,
	}

	recent, err := s.db.RecentMessages(msg.ChatID, s.cfg.ContextSize)
	if err != nil {
		s.logger.Warn("chat context load failed, analyzing without context",
			zap.String("chat_id", msg.ChatID), zap.Error(err))
	}
	for i := range recent {
		m := &recent[i]
		if m.Key == msg.Key {
			continue
		}
		req.ChatContext = append(req.ChatContext, analysis.ContextMessage{
			ID:        m.Key,
			Text:      m.Body,
			SenderID:  m.SenderID,
			ChatID:    m.ChatID,
			Timestamp: time.UnixMilli(m.Timestamp).UTC().Format(time.RFC3339),
		})
	}

	raw, err := s.client.Analyze(ctx, req)
	if err != nil {
		s.logger.Warn("analysis request failed",
			zap.String("chat_id", msg.ChatID),
			zap.String("msg_key", msg.Key),
			zap.Error(err))
		return
	}

	if _, err := s.ing.Ingest(raw, s.userID, msg.ChatID, msg.Key); err != nil {
		s.logger.Warn("analysis response rejected",
			zap.String("chat_id", msg.ChatID),
			zap.String("msg_key", msg.Key),
			zap.Error(err))
	}
}

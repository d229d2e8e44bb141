// Package notify decides whether an inbound message surfaces a
// notification and constructs the platform payloads when it does.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/appstate"
	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/config"
	"github.com/chirpchat/chirp/internal/metrics"
	"github.com/chirpchat/chirp/internal/retry"
	"github.com/chirpchat/chirp/internal/store"
)

// bodyLimit is the notification body length in runes before truncation.
const bodyLimit = 50

// Suppression reasons, preserved in diagnostics and metrics.
const (
	ReasonActiveChat    = "active chat"
	ReasonDisabled      = "notifications disabled"
	ReasonChatTypeOff   = "chat type disabled"
	ReasonQuietHours    = "quiet hours"
	ReasonNotForeground = "app not in foreground"
)

// InboundMessage is the event shape the pipeline evaluates.
type InboundMessage struct {
	ChatID     string
	MsgKey     string
	SenderID   string
	SenderName string
	Body       string
	ChatName   string
	IsGroup    bool
}

// Notification is the formatted alert handed to sinks.
type Notification struct {
	ChatID string
	MsgKey string
	Title  string
	Body   string
	Sound  string
}

// Decision is the outcome of one suppression evaluation.
type Decision struct {
	Allow        bool
	Reason       string
	Notification *Notification
}

// Sink receives notifications that passed suppression. Implementations
// cover the in-app banner and the platform push channel.
type Sink interface {
	Deliver(n *Notification) error
}

// ChatLookup resolves chat metadata for inbound events.
type ChatLookup interface {
	GetChat(id string) (*store.Chat, error)
}

// Pipeline evaluates suppression rules and delivers allowed notifications.
type Pipeline struct {
	prefs   func() config.Notifications
	tracker *appstate.Tracker
	chats   ChatLookup
	sink    Sink
	queue   *retry.Queue
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc

	now func() time.Time // replaced in tests
}

// NewPipeline creates a notification pipeline. prefs is called per
// decision so preference changes apply without restart.
func NewPipeline(prefs func() config.Notifications, tracker *appstate.Tracker, chats ChatLookup, sink Sink, queue *retry.Queue, b *bus.Bus, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		prefs:   prefs,
		tracker: tracker,
		chats:   chats,
		sink:    sink,
		queue:   queue,
		bus:     b,
		logger:  logger,
		now:     time.Now,
	}
}

// Evaluate runs the suppression chain top to bottom and stops at the
// first matching rule. Internal errors fail open: a real message alert is
// never dropped because a preference could not be evaluated.
func (p *Pipeline) Evaluate(m InboundMessage) Decision {
	if p.tracker != nil && p.tracker.Viewing(m.ChatID) {
		return Decision{Reason: ReasonActiveChat}
	}

	prefs := p.prefs()
	if !prefs.Enabled {
		return Decision{Reason: ReasonDisabled}
	}
	if m.IsGroup && !prefs.GroupChats {
		return Decision{Reason: ReasonChatTypeOff}
	}
	if !m.IsGroup && !prefs.DirectMessages {
		return Decision{Reason: ReasonChatTypeOff}
	}

	quiet, err := inQuietHours(prefs.QuietHours, p.now())
	if err != nil {
		p.logger.Warn("quiet hours evaluation failed, allowing notification", zap.Error(err))
	} else if quiet {
		override := prefs.KeywordOverride && keywordMatch(m.Body, prefs.Keywords)
		if !override {
			return Decision{Reason: ReasonQuietHours}
		}
	}

	if prefs.ForegroundOnly && p.tracker != nil && p.tracker.Current() != appstate.Active {
		return Decision{Reason: ReasonNotForeground}
	}

	return Decision{Allow: true, Notification: p.format(m, prefs)}
}

// Notify evaluates the message and, when allowed, delivers the
// notification. Sink failures are classified and handed to the retry
// queue rather than surfaced.
func (p *Pipeline) Notify(m InboundMessage) Decision {
	d := p.Evaluate(m)
	if !d.Allow {
		metrics.NotificationsSuppressed.WithLabelValues(d.Reason).Inc()
		p.logger.Debug("notification suppressed",
			zap.String("chat_id", m.ChatID),
			zap.String("msg_key", m.MsgKey),
			zap.String("reason", d.Reason))
		p.publish(bus.KindNotifSuppressed, d)
		return d
	}

	if err := p.deliver(d.Notification); err != nil {
		rerr := classify(err)
		rerr.Context = map[string]string{"chat_id": m.ChatID, "msg_key": m.MsgKey}
		if p.queue != nil && p.queue.Enqueue(d.Notification, rerr) {
			p.logger.Warn("notification delivery failed, retry scheduled",
				zap.String("msg_key", m.MsgKey), zap.Error(err))
		} else {
			p.logger.Error("notification delivery failed permanently",
				zap.String("msg_key", m.MsgKey), zap.Error(err))
		}
		return d
	}

	metrics.NotificationsDelivered.Inc()
	p.publish(bus.KindNotifDelivered, d)
	return d
}

// Start subscribes to new-message events and registers the retry handler
// for failed deliveries.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	ch, unsub := p.bus.Subscribe(bus.KindMessageNew, 256)

	var unregister func()
	if p.queue != nil {
		unregister = p.queue.RegisterHandler(func(item *retry.Item) error {
			n, ok := item.Payload.(*Notification)
			if !ok {
				return fmt.Errorf("not a notification payload: %T", item.Payload)
			}
			return p.deliver(n)
		})
	}

	go func() {
		defer unsub()
		if unregister != nil {
			defer unregister()
		}
		for {
			select {
			case evt := <-ch:
				msg, ok := evt.Payload.(*store.Message)
				if !ok || msg.FromMe {
					continue
				}
				p.Notify(p.inbound(msg))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the pipeline's event loop.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pipeline) inbound(msg *store.Message) InboundMessage {
	m := InboundMessage{
		ChatID:     msg.ChatID,
		MsgKey:     msg.Key,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Body:       msg.Body,
	}
	if p.chats != nil {
		if chat, err := p.chats.GetChat(msg.ChatID); err != nil {
			p.logger.Warn("chat lookup failed", zap.String("chat_id", msg.ChatID), zap.Error(err))
		} else if chat != nil {
			m.ChatName = chat.Name
			m.IsGroup = chat.IsGroup
		}
	}
	if m.SenderName == "" {
		m.SenderName = msg.SenderID
	}
	return m
}

func (p *Pipeline) format(m InboundMessage, prefs config.Notifications) *Notification {
	title := m.SenderName
	if m.IsGroup {
		chatName := m.ChatName
		if chatName == "" {
			chatName = m.ChatID
		}
		title = fmt.Sprintf("%s in %s", m.SenderName, chatName)
	}
	return &Notification{
		ChatID: m.ChatID,
		MsgKey: m.MsgKey,
		Title:  title,
		Body:   truncate(m.Body, bodyLimit),
		Sound:  prefs.SoundName,
	}
}

func (p *Pipeline) deliver(n *Notification) error {
	if p.sink == nil {
		return nil
	}
	return p.sink.Deliver(n)
}

func (p *Pipeline) publish(kind string, d Decision) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: d})
}

// classify maps a sink error onto the retry taxonomy.
func classify(err error) *retry.Error {
	var rerr *retry.Error
	if errors.As(err, &rerr) {
		return rerr
	}
	return retry.NewError(retry.UnknownError, err.Error())
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

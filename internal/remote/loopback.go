package remote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/store"
)

// Loopback is an in-process stand-in for the message service. Every send
// is acknowledged immediately and echoed back as a server-confirmed copy
// on the stream, the way the real service confirms an optimistic send.
// Used by tests and by chirpd when no transport is configured.
type Loopback struct {
	bus    *bus.Bus
	userID string

	mu   sync.Mutex
	sent []store.Message
}

// NewLoopback creates a loopback transport publishing onto b as userID.
func NewLoopback(b *bus.Bus, userID string) *Loopback {
	return &Loopback{bus: b, userID: userID}
}

// SendText assigns a server key and echoes the confirmed message on the
// stream.
func (l *Loopback) SendText(ctx context.Context, chatID, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	serverID := "srv_" + uuid.NewString()
	now := time.Now()
	msg := store.Message{
		ChatID:      chatID,
		Key:         serverID,
		SenderID:    l.userID,
		Body:        body,
		MessageType: "text",
		FromMe:      true,
		Timestamp:   now.UnixMilli(),
	}

	l.mu.Lock()
	l.sent = append(l.sent, msg)
	l.mu.Unlock()

	l.bus.Publish(bus.Event{Kind: bus.KindRemoteMessage, Timestamp: now, Payload: &msg})
	return serverID, nil
}

// Sent returns a copy of every message sent through the loopback.
func (l *Loopback) Sent() []store.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.Message, len(l.sent))
	copy(out, l.sent)
	return out
}

// Start satisfies Stream. The loopback has no connection to open.
func (l *Loopback) Start(ctx context.Context) error { return nil }

// Stop satisfies Stream.
func (l *Loopback) Stop() {}

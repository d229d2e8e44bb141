// Package remote abstracts the message service. The daemon only ever
// talks to these interfaces; the concrete transport is injected at wiring
// time.
package remote

import "context"

// MessageSender delivers outgoing text messages to the service and
// returns the server-assigned message key.
type MessageSender interface {
	SendText(ctx context.Context, chatID, body string) (serverMsgID string, err error)
}

// Stream is a long-lived realtime connection that feeds "remote." events
// onto the bus for the ingestion engine.
type Stream interface {
	Start(ctx context.Context) error
	Stop()
}

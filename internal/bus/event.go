package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the daemon. Subscribers filter by namespace
// prefix, e.g. "message." or "remote.".
const (
	KindRemoteMessage = "remote.message" // server-confirmed message arrived on the stream
	KindRemoteStatus  = "remote.status"  // delivery status event arrived on the stream
	KindRemoteHistory = "remote.history" // backfill batch of older messages

	KindHistoryIngested = "history.ingested"

	KindMessageUpserted   = "message.upserted"
	KindMessageNew        = "message.new" // genuinely new inbound message from another user
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindStatusChanged = "status.changed"

	KindNotifDelivered  = "notification.delivered"
	KindNotifSuppressed = "notification.suppressed"

	KindSuggestionCreated = "suggestion.created"

	KindAppStateChanged = "app.state_changed"
	KindAppActiveChat   = "app.active_chat"
)

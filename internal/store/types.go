package store

// Chat represents a conversation the user participates in.
type Chat struct {
	ID                 string
	Name               string
	IsGroup            bool
	ParticipantCount   int
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Fingerprint identifies an optimistic message by content until its
// server-confirmed copy arrives.
type Fingerprint struct {
	SenderID  string
	Body      string
	Timestamp int64
}

// MessageID is a tagged message identifier: either a server-assigned key,
// or a synthetic client key paired with the content fingerprint used to
// match the eventual server copy. The two cases are distinguished
// explicitly instead of by id-prefix sniffing.
type MessageID struct {
	key string
	fp  *Fingerprint
}

// PersistedID returns the identifier of a server-confirmed message.
func PersistedID(key string) MessageID {
	return MessageID{key: key}
}

// TemporaryID returns the identifier of an optimistic message.
func TemporaryID(clientKey string, fp Fingerprint) MessageID {
	return MessageID{key: clientKey, fp: &fp}
}

// Temporary reports whether the id belongs to an optimistic message.
func (id MessageID) Temporary() bool { return id.fp != nil }

// Key returns the storage key (server key, or client key while temporary).
func (id MessageID) Key() string { return id.key }

// Fingerprint returns the content fingerprint of a temporary id.
// ok is false for persisted ids.
func (id MessageID) Fingerprint() (fp Fingerprint, ok bool) {
	if id.fp == nil {
		return Fingerprint{}, false
	}
	return *id.fp, true
}

// Message represents a cached message.
type Message struct {
	RowID       int64
	ChatID      string
	Key         string
	Temporary   bool
	SenderID    string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Timestamp   int64 // unix millis
	EditedAt    int64 // 0 = never edited
	DeletedAt   int64 // 0 = not deleted
}

// ID returns the message's tagged identifier.
func (m *Message) ID() MessageID {
	if m.Temporary {
		return TemporaryID(m.Key, m.ContentFingerprint())
	}
	return PersistedID(m.Key)
}

// ContentFingerprint returns the fields used to match an optimistic
// message against its server-confirmed copy.
func (m *Message) ContentFingerprint() Fingerprint {
	return Fingerprint{SenderID: m.SenderID, Body: m.Body, Timestamp: m.Timestamp}
}

// Delivery status values for a message, ordered by lifecycle.
const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusRead    = "read"
	StatusFailed  = "failed"
)

// StatusRecord is one event in a message's delivery status log. The
// current status of a message is the record with the greatest timestamp.
type StatusRecord struct {
	ID        string
	MsgKey    string
	Status    string
	UserID    string
	Timestamp int64
}

// ReadReceipt marks a message read by a user.
type ReadReceipt struct {
	MsgKey string
	UserID string
	ReadAt int64
}

// Suggestion types produced by the analysis ingestion pipeline.
const (
	SuggestionCalendarEvent     = "calendar_event"
	SuggestionDecisionSummary   = "decision_summary"
	SuggestionPriorityFlag      = "priority_flag"
	SuggestionRSVPTracking      = "rsvp_tracking"
	SuggestionDeadlineReminder  = "deadline_reminder"
	SuggestionSuggestedResponse = "suggested_response"
)

// Suggestion status values.
const (
	SuggestionPending   = "pending"
	SuggestionConfirmed = "confirmed"
	SuggestionRejected  = "rejected"
	SuggestionExecuted  = "executed"
)

// Suggestion is an actionable item derived from a chat message.
type Suggestion struct {
	ID              string
	UserID          string
	ChatID          string
	MsgKey          string
	Type            string
	Status          string
	Title           string
	Description     string
	Metadata        string // type-specific JSON object
	CreatedAt       int64
	ConfirmedAt     int64
	RejectedAt      int64
	ExecutedAt      int64
	ExecutionResult string
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}

package suggest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chirpchat/chirp/internal/store"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
)

// Metadata is the type-specific payload stored alongside a suggestion.
type Metadata struct {
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning,omitempty"`
	EventAt       int64    `json:"eventAt,omitempty"` // unix millis
	Location      string   `json:"location,omitempty"`
	Attendees     []string `json:"attendees,omitempty"`
	PriorityLevel int      `json:"priorityLevel,omitempty"`
	DeadlineAt    int64    `json:"deadlineAt,omitempty"`
	Question      string   `json:"question,omitempty"`
	Options       []string `json:"options,omitempty"`
	Responses     []string `json:"responses,omitempty"`
}

// categoryTypes maps recognized analysis category tokens to suggestion
// types. An absent token is a per-category failure, not a batch error.
var categoryTypes = map[string]string{
	"CALENDAR_EVENT":     store.SuggestionCalendarEvent,
	"DECISION":           store.SuggestionDecisionSummary,
	"PRIORITY":           store.SuggestionPriorityFlag,
	"RSVP":               store.SuggestionRSVPTracking,
	"DEADLINE":           store.SuggestionDeadlineReminder,
	"SUGGESTED_RESPONSE": store.SuggestionSuggestedResponse,
}

// urgencyLevels maps the endpoint's urgency token to a 1..5 priority.
var urgencyLevels = map[string]int{
	"high":   5,
	"medium": 3,
	"low":    1,
}

// synthesize builds one pending suggestion for the given category token.
func synthesize(category string, c *itemContent, d *details, userID, chatID, msgKey string, now int64) (*store.Suggestion, error) {
	sType, ok := categoryTypes[category]
	if !ok {
		return nil, fmt.Errorf("unrecognized category %q", category)
	}

	md := Metadata{
		Confidence: confidenceValue(c.Confidence),
		Reasoning:  sanitizeText(c.Reasoning, maxReasoningLen),
	}
	var title, description string

	switch sType {
	case store.SuggestionCalendarEvent:
		title = firstNonEmpty(d.str("event_title"), "Calendar event")
		description = md.Reasoning
		md.EventAt = combineDateTime(d.str("date"), d.str("time"))
		md.Location = d.str("location")
		md.Attendees = d.arr("attendees")

	case store.SuggestionDecisionSummary:
		title = firstNonEmpty(d.str("topic"), "Decision needed")
		description = firstNonEmpty(d.str("decision"), md.Reasoning)
		md.Options = d.arr("options")

	case store.SuggestionPriorityFlag:
		title = "Priority message"
		description = md.Reasoning
		level, ok := urgencyLevels[strings.ToLower(d.str("urgency"))]
		if !ok {
			level = urgencyLevels["medium"]
		}
		md.PriorityLevel = level

	case store.SuggestionRSVPTracking:
		title = firstNonEmpty(d.str("event_title"), "RSVP requested")
		description = firstNonEmpty(d.str("question"), md.Reasoning)
		md.Question = d.str("question")
		md.Attendees = d.arr("participants")

	case store.SuggestionDeadlineReminder:
		title = firstNonEmpty(d.str("task"), "Deadline")
		description = md.Reasoning
		md.DeadlineAt = combineDateTime(d.str("deadline_date"), d.str("deadline_time"))

	case store.SuggestionSuggestedResponse:
		title = "Suggested reply"
		description = md.Reasoning
		md.Responses = d.arr("suggested_responses")
	}

	mdJSON, err := json.Marshal(&md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	s := &store.Suggestion{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChatID:      chatID,
		MsgKey:      msgKey,
		Type:        sType,
		Status:      store.SuggestionPending,
		Title:       title,
		Description: description,
		Metadata:    string(mdJSON),
		CreatedAt:   now,
	}
	if err := validateSuggestion(s, &md); err != nil {
		return nil, err
	}
	return s, nil
}

// validateSuggestion enforces the field-length and range invariants that
// gate every write.
func validateSuggestion(s *store.Suggestion, md *Metadata) error {
	if s.Title == "" {
		return fmt.Errorf("empty title")
	}
	if n := len([]rune(s.Title)); n > maxTitleLen {
		return fmt.Errorf("title too long (%d runes)", n)
	}
	if n := len([]rune(s.Description)); n > maxDescriptionLen {
		return fmt.Errorf("description too long (%d runes)", n)
	}
	if md.Confidence < 0 || md.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", md.Confidence)
	}
	if md.PriorityLevel != 0 && (md.PriorityLevel < 1 || md.PriorityLevel > 5) {
		return fmt.Errorf("priority level %d out of range", md.PriorityLevel)
	}
	return nil
}

// combineDateTime folds a "2006-01-02" date and optional "15:04" time into
// one unix-millis timestamp. Unparseable input yields zero; a missing
// timestamp is a degraded suggestion, not a failed one.
func combineDateTime(date, clock string) int64 {
	if date == "" {
		return 0
	}
	layout := "2006-01-02"
	value := date
	if clock != "" {
		layout = "2006-01-02 15:04"
		value = date + " " + clock
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

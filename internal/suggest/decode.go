// Package suggest turns analysis-endpoint responses into persisted
// suggestions. The endpoint's payloads are untrusted; everything here is
// shape-gated, sanitized, and validated before a row is written.
package suggest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxBatchItems bounds one analysis response. Larger batches indicate a
// runaway upstream and are rejected wholesale.
const maxBatchItems = 10

var identRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidIdentifier reports whether s is acceptable as a user, chat, or
// message identifier in an ingest call.
func ValidIdentifier(s string) bool {
	return identRegexp.MatchString(s)
}

// responseItem is one element of the analysis response array.
type responseItem struct {
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// itemContent is the assistant payload inside a response item.
type itemContent struct {
	ChatID           string                     `json:"chat_id"`
	MessageID        string                     `json:"message_id"`
	IsActionable     bool                       `json:"is_actionable"`
	Categories       []string                   `json:"categories"`
	Confidence       string                     `json:"confidence"`
	Reasoning        string                     `json:"reasoning"`
	ExtractedDetails map[string]json.RawMessage `json:"extracted_details"`
}

// wrapperFields are object keys the endpoint has been seen nesting the
// result array under, tried in order.
var wrapperFields = []string{"body", "message", "data", "results"}

// RecoverPayload coerces an arbitrary analysis payload into an item array.
// It tries, in order: the payload as a direct array, known wrapper fields,
// wrapping a single object, and reparsing a JSON-encoded string. The
// returned attempts list records every strategy tried, for diagnostics.
func RecoverPayload(raw json.RawMessage) ([]json.RawMessage, []string, error) {
	return recoverPayload(raw, nil, 0)
}

func recoverPayload(raw json.RawMessage, attempts []string, depth int) ([]json.RawMessage, []string, error) {
	if depth > 3 {
		return nil, attempts, fmt.Errorf("payload recovery exceeded nesting limit")
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, attempts, fmt.Errorf("empty payload")
	}

	switch trimmed[0] {
	case '[':
		attempts = append(attempts, "direct-array")
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, attempts, fmt.Errorf("malformed array: %w", err)
		}
		return items, attempts, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			attempts = append(attempts, "object-parse")
			return nil, attempts, fmt.Errorf("malformed object: %w", err)
		}
		for _, field := range wrapperFields {
			inner, ok := obj[field]
			if !ok {
				continue
			}
			innerTrimmed := bytes.TrimSpace(inner)
			if len(innerTrimmed) == 0 {
				continue
			}
			// A wrapper field only counts when it holds the array itself
			// or a string that decodes to one. An object value falls
			// through to the single-object strategy: {message:{...}} is
			// the item shape, not a wrapper.
			if innerTrimmed[0] == '[' || innerTrimmed[0] == '"' {
				attempts = append(attempts, "wrapper:"+field)
				items, attempts, err := recoverPayload(inner, attempts, depth+1)
				if err == nil {
					return items, attempts, nil
				}
			}
		}
		attempts = append(attempts, "single-object")
		return []json.RawMessage{trimmed}, attempts, nil

	case '"':
		attempts = append(attempts, "json-string")
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, attempts, fmt.Errorf("malformed string payload: %w", err)
		}
		return recoverPayload(json.RawMessage(s), attempts, depth+1)

	default:
		return nil, attempts, fmt.Errorf("unrecognized payload shape (starts with %q)", trimmed[0])
	}
}

// decodeItem shape-gates a single response item. An error means the item
// is skipped, never that the batch fails.
func decodeItem(raw json.RawMessage) (*itemContent, error) {
	var item responseItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("malformed item: %w", err)
	}
	if item.Message.Role != "assistant" {
		return nil, fmt.Errorf("unexpected role %q", item.Message.Role)
	}
	content := bytes.TrimSpace(item.Message.Content)
	if len(content) == 0 || content[0] != '{' {
		return nil, fmt.Errorf("content is not an object")
	}
	var c itemContent
	if err := json.Unmarshal(content, &c); err != nil {
		return nil, fmt.Errorf("malformed content: %w", err)
	}
	return &c, nil
}

// confidenceValue maps the endpoint's confidence token to a numeric score.
func confidenceValue(token string) float64 {
	switch strings.ToLower(token) {
	case "high":
		return 0.9
	case "medium":
		return 0.7
	case "low":
		return 0.5
	default:
		return 0.7
	}
}

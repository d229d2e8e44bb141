package suggest

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	maxReasoningLen = 1000
	maxStringDetail = 500
	maxArrayEntries = 20
	maxArrayEntry   = 200
)

// Detail fields the pipeline will read from extracted_details. Anything
// else the endpoint sends is dropped.
var (
	stringDetailFields = map[string]bool{
		"event_title":   true,
		"date":          true,
		"time":          true,
		"location":      true,
		"topic":         true,
		"decision":      true,
		"urgency":       true,
		"question":      true,
		"deadline_date": true,
		"deadline_time": true,
		"task":          true,
	}
	arrayDetailFields = map[string]bool{
		"attendees":           true,
		"options":             true,
		"participants":        true,
		"key_points":          true,
		"suggested_responses": true,
	}
)

var htmlTagRegexp = regexp.MustCompile(`<[^>]*>`)

// sanitizeText strips control characters and HTML-like tags, then caps the
// result at limit runes.
func sanitizeText(s string, limit int) string {
	s = htmlTagRegexp.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return s
}

// details is the sanitized view of extracted_details.
type details struct {
	strings map[string]string
	arrays  map[string][]string
}

func (d *details) str(key string) string {
	return d.strings[key]
}

func (d *details) arr(key string) []string {
	return d.arrays[key]
}

// sanitizeDetails allow-lists and length-caps extracted_details. Fields
// with the wrong JSON type are dropped silently.
func sanitizeDetails(raw map[string]json.RawMessage) *details {
	d := &details{
		strings: make(map[string]string),
		arrays:  make(map[string][]string),
	}
	for key, val := range raw {
		switch {
		case stringDetailFields[key]:
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				continue
			}
			d.strings[key] = sanitizeText(s, maxStringDetail)
		case arrayDetailFields[key]:
			var arr []string
			if err := json.Unmarshal(val, &arr); err != nil {
				continue
			}
			if len(arr) > maxArrayEntries {
				arr = arr[:maxArrayEntries]
			}
			out := make([]string, 0, len(arr))
			for _, entry := range arr {
				entry = sanitizeText(entry, maxArrayEntry)
				if entry != "" {
					out = append(out, entry)
				}
			}
			d.arrays[key] = out
		}
	}
	return d
}

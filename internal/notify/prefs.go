package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/chirpchat/chirp/internal/config"
)

// parseClock parses an "HH:MM" string into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// inQuietHours reports whether now falls inside the configured window.
// Start > End describes an overnight window (e.g. 22:00 -> 08:00).
func inQuietHours(q config.QuietHours, now time.Time) (bool, error) {
	if !q.Enabled {
		return false, nil
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false, err
	}

	loc := time.Local
	if q.Timezone != "" && q.Timezone != "Local" {
		loc, err = time.LoadLocation(q.Timezone)
		if err != nil {
			return false, fmt.Errorf("load timezone %q: %w", q.Timezone, err)
		}
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	if start <= end {
		return cur >= start && cur < end, nil
	}
	// Overnight window wraps midnight.
	return cur >= start || cur < end, nil
}

// keywordMatch reports whether text contains any of the configured
// keywords, case-insensitively.
func keywordMatch(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

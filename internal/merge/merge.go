// Package merge reconciles optimistic and server-confirmed copies of chat
// messages into a single ordered, duplicate-free sequence.
package merge

import (
	"fmt"
	"sort"

	"github.com/chirpchat/chirp/internal/store"
)

// DuplicateWindow is the timestamp tolerance when matching an optimistic
// message against its server copy. Heuristic, tunable.
const DuplicateWindow = int64(5000) // millis

// Result is the outcome of one merge pass.
type Result struct {
	// Messages is the reconciled sequence, ascending by timestamp.
	Messages []store.Message
	// NewMessages are outputs whose key was not present in the existing
	// set. Callers use these to drive notification and read tracking.
	NewMessages []store.Message
	// ReplacedOptimistic counts temporary messages replaced by their
	// server-confirmed copies.
	ReplacedOptimistic int
}

// MatchKey returns the dedup identity of a message: the server key for
// confirmed messages, the content fingerprint (bucketed by the duplicate
// window) for optimistic ones.
func MatchKey(m *store.Message) string {
	id := m.ID()
	if fp, ok := id.Fingerprint(); ok {
		return fmt.Sprintf("fp:%s|%s|%d", fp.SenderID, fp.Body, fp.Timestamp/DuplicateWindow)
	}
	return "key:" + id.Key()
}

// isDuplicate reports whether a and b represent the same logical message:
// equal keys, or same sender and body within the duplicate window.
func isDuplicate(a, b *store.Message) bool {
	if a.Key == b.Key {
		return true
	}
	if a.SenderID != b.SenderID || a.Body != b.Body {
		return false
	}
	delta := a.Timestamp - b.Timestamp
	if delta < 0 {
		delta = -delta
	}
	return delta < DuplicateWindow
}

// Merge reconciles incoming messages into the existing sequence. It is a
// pure function: inputs are not mutated, and merging is idempotent.
// Merging a result with an empty incoming set returns the same sequence.
// Existing messages pass through the same coalescing as incoming ones, so
// the output is duplicate-free even when the stored sequence already
// holds an optimistic copy next to its confirmed one.
func Merge(existing, incoming []store.Message) Result {
	existingKeys := make(map[string]struct{}, len(existing))
	for i := range existing {
		existingKeys[existing[i].Key] = struct{}{}
	}

	merged := make([]store.Message, 0, len(existing)+len(incoming))
	replaced := 0
	absorb := func(in store.Message) {
		for j := range merged {
			if !isDuplicate(&merged[j], &in) {
				continue
			}
			// Replace only when the held copy is optimistic and the
			// new one is confirmed; otherwise the message is already
			// present.
			if merged[j].Temporary && !in.Temporary {
				merged[j] = in
				replaced++
			}
			return
		}
		merged = append(merged, in)
	}
	for i := range existing {
		absorb(existing[i])
	}
	for i := range incoming {
		absorb(incoming[i])
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	var fresh []store.Message
	for i := range merged {
		if _, ok := existingKeys[merged[i].Key]; !ok {
			fresh = append(fresh, merged[i])
		}
	}

	return Result{
		Messages:           merged,
		NewMessages:        fresh,
		ReplacedOptimistic: replaced,
	}
}

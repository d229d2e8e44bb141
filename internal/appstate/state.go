// Package appstate tracks the host app's lifecycle phase and which chat
// the user is currently viewing. The notification pipeline consults both.
package appstate

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chirpchat/chirp/internal/bus"
)

// State represents the app lifecycle phase reported by the platform.
type State string

const (
	Active     State = "ACTIVE"
	Inactive   State = "INACTIVE"
	Background State = "BACKGROUND"
)

// validTransitions defines allowed lifecycle transitions.
var validTransitions = map[State][]State{
	Active:     {Inactive, Background},
	Inactive:   {Active, Background},
	Background: {Inactive, Active},
}

// Tracker tracks lifecycle state and the active chat view.
type Tracker struct {
	mu         sync.RWMutex
	current    State
	activeChat string
	bus        *bus.Bus
}

// NewTracker creates a tracker starting in the Active state with no chat open.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		current: Active,
		bus:     b,
	}
}

// Current returns the current lifecycle state.
func (t *Tracker) Current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Transition attempts to move to a new lifecycle state. Returns an error
// if the transition is invalid.
func (t *Tracker) Transition(to State) error {
	t.mu.Lock()
	allowed := validTransitions[t.current]
	if !slices.Contains(allowed, to) {
		cur := t.current
		t.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", cur, to)
	}
	from := t.current
	t.current = to
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      bus.KindAppStateChanged,
			Timestamp: time.Now(),
			Payload:   StateChange{From: from, To: to},
		})
	}
	return nil
}

// SetActiveChat records that the user is viewing the given chat.
func (t *Tracker) SetActiveChat(chatID string) {
	t.mu.Lock()
	t.activeChat = chatID
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      bus.KindAppActiveChat,
			Timestamp: time.Now(),
			Payload:   chatID,
		})
	}
}

// ClearActiveChat records that no chat view is open.
func (t *Tracker) ClearActiveChat() {
	t.SetActiveChat("")
}

// ActiveChat returns the chat id the user is viewing, or "" when none.
func (t *Tracker) ActiveChat() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeChat
}

// Viewing reports whether the user is actively looking at chatID.
func (t *Tracker) Viewing(chatID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeChat != "" && t.activeChat == chatID && t.current == Active
}

// StateChange is the payload for lifecycle change events.
type StateChange struct {
	From State
	To   State
}

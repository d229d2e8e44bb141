// Package retry implements the pipeline's exponential-backoff retry queue.
package retry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/metrics"
)

// Handler attempts to retry one item. Handlers are tried in registration
// order until one returns nil.
type Handler func(item *Item) error

// Item is one in-flight retryable failure.
type Item struct {
	ID          string
	Payload     any
	RetryCount  int
	NextRetryAt time.Time
	Err         *Error
}

// Config tunes queue behavior. Zero values fall back to defaults.
type Config struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Throttle is the minimum spacing between processing passes,
	// preventing thundering-herd re-entry when many items become due
	// at once.
	Throttle time.Duration
}

// DefaultConfig returns the standard queue tuning.
func DefaultConfig() Config {
	return Config{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Multiplier: DefaultMultiplier,
		Throttle:   2 * time.Second,
	}
}

type handlerEntry struct {
	id int
	fn Handler
}

// Queue schedules retries of failed pipeline actions. A single timer
// always points at the earliest due item; firing it processes everything
// that has become due. All item state lives in memory and is lost on
// restart, which is acceptable for in-app notification actions.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	items    map[string]*Item
	handlers []handlerEntry
	nextID   int
	timer    *time.Timer
	lastPass time.Time
	running  bool
	stopped  bool
	logger   *zap.Logger

	now func() time.Time // replaced in tests
}

// NewQueue creates an empty retry queue.
func NewQueue(cfg Config, logger *zap.Logger) *Queue {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = def.Throttle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cfg:    cfg,
		items:  make(map[string]*Item),
		logger: logger,
		now:    time.Now,
	}
}

// RegisterHandler adds a retry callback. The returned function removes it.
func (q *Queue) RegisterHandler(fn Handler) func() {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.handlers = append(q.handlers, handlerEntry{id: id, fn: fn})
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, h := range q.handlers {
			if h.id == id {
				q.handlers = append(q.handlers[:i], q.handlers[i+1:]...)
				return
			}
		}
	}
}

// Enqueue schedules a retry for the payload. Non-retryable error types are
// refused; the return value reports whether the item was accepted.
// customDelay overrides the computed backoff for the first attempt.
func (q *Queue) Enqueue(payload any, e *Error, customDelay ...time.Duration) bool {
	if e == nil || !e.Type.Retryable() {
		return false
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = DefaultMaxRetries
	}

	delay := Backoff(e.RetryCount, q.cfg.BaseDelay, q.cfg.MaxDelay, q.cfg.Multiplier)
	if len(customDelay) > 0 && customDelay[0] > 0 {
		delay = customDelay[0]
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	item := &Item{
		ID:          e.ID,
		Payload:     payload,
		RetryCount:  e.RetryCount,
		NextRetryAt: q.now().Add(delay),
		Err:         e,
	}
	q.items[item.ID] = item
	metrics.RetryEnqueued.Inc()
	q.scheduleLocked()
	return true
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued items for diagnostics.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	return out
}

// EmergencyStop clears all queue state and registered handlers, the
// escape hatch for a runaway retry storm.
func (q *Queue) EmergencyStop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.items = make(map[string]*Item)
	q.handlers = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.logger.Warn("retry queue emergency stop: all items and handlers cleared")
}

// scheduleLocked points the single timer at the earliest due item,
// postponed if necessary to honor the processing throttle.
func (q *Queue) scheduleLocked() {
	if q.stopped || len(q.items) == 0 {
		return
	}
	var earliest time.Time
	for _, it := range q.items {
		if earliest.IsZero() || it.NextRetryAt.Before(earliest) {
			earliest = it.NextRetryAt
		}
	}
	if !q.lastPass.IsZero() {
		if floor := q.lastPass.Add(q.cfg.Throttle); earliest.Before(floor) {
			earliest = floor
		}
	}
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(d, q.process)
}

// process runs one pass over every due item. Handler invocation happens
// outside the lock so callbacks can re-enter the queue safely; the
// handler list is iterated as a snapshot. At most one pass runs at a
// time: an Enqueue during a slow pass re-arms the timer, and the fired
// pass would otherwise race the in-flight one on the same items. The
// running flag makes the late pass a no-op; the finishing pass always
// reschedules, so nothing is lost.
func (q *Queue) process() {
	q.mu.Lock()
	if q.stopped || q.running {
		q.mu.Unlock()
		return
	}
	now := q.now()
	if !q.lastPass.IsZero() && now.Sub(q.lastPass) < q.cfg.Throttle {
		q.scheduleLocked()
		q.mu.Unlock()
		return
	}
	q.lastPass = now
	q.running = true

	var due []*Item
	for _, it := range q.items {
		if !it.NextRetryAt.After(now) {
			due = append(due, it)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	handlers := make([]handlerEntry, len(q.handlers))
	copy(handlers, q.handlers)
	q.mu.Unlock()

	for _, it := range due {
		err := q.attempt(it, handlers)

		q.mu.Lock()
		if _, present := q.items[it.ID]; !present {
			// Removed by EmergencyStop while running.
			q.mu.Unlock()
			continue
		}
		if err == nil {
			delete(q.items, it.ID)
			q.mu.Unlock()
			continue
		}
		it.RetryCount++
		it.Err.RetryCount = it.RetryCount
		if it.RetryCount >= it.Err.MaxRetries {
			delete(q.items, it.ID)
			metrics.RetryAbandoned.Inc()
			q.logger.Warn("retry abandoned",
				zap.String("item_id", it.ID),
				zap.String("error_type", string(it.Err.Type)),
				zap.Int("attempts", it.RetryCount),
				zap.String("last_error", err.Error()))
		} else {
			it.NextRetryAt = q.now().Add(Backoff(it.RetryCount, q.cfg.BaseDelay, q.cfg.MaxDelay, q.cfg.Multiplier))
		}
		q.mu.Unlock()
	}

	q.mu.Lock()
	q.running = false
	q.scheduleLocked()
	q.mu.Unlock()
}

func (q *Queue) attempt(it *Item, handlers []handlerEntry) error {
	var lastErr error
	for _, h := range handlers {
		if err := h.fn(it); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = NewError(UnknownError, "no retry handler registered")
	}
	return lastErr
}

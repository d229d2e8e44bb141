package delivery

import (
	"github.com/chirpchat/chirp/internal/store"
)

// Subscribe opens one watcher per message id and invokes onChange with the
// most recent status each time one is recorded. Message counts are bounded
// by chat pagination, so per-message watchers are acceptable. An error on
// one message goes to onError without tearing down sibling watchers. The
// returned function releases every watcher; chat-view teardown must call
// it or listeners leak.
func (s *Store) Subscribe(msgKeys []string, onChange func(store.StatusRecord), onError func(msgKey string, err error)) func() {
	done := make(chan struct{})
	cancels := make([]func(), 0, len(msgKeys))

	for _, key := range msgKeys {
		// Subscribe before reading the snapshot so a status recorded in
		// between is buffered rather than missed. The same transition may
		// then arrive twice; callers treat onChange as latest-wins.
		ch, unsub := s.bus.Subscribe("status.", 16)
		cancels = append(cancels, unsub)

		// Deliver the current status up front so a late subscriber does
		// not miss the last transition.
		if rec, err := s.db.LatestStatus(key); err != nil {
			if onError != nil {
				onError(key, err)
			}
		} else if rec != nil {
			onChange(*rec)
		}

		go func(key string) {
			for {
				select {
				case evt := <-ch:
					rec, ok := evt.Payload.(*store.StatusRecord)
					if !ok || rec.MsgKey != key {
						continue
					}
					onChange(*rec)
				case <-done:
					return
				}
			}
		}(key)
	}

	return func() {
		close(done)
		for _, cancel := range cancels {
			cancel()
		}
	}
}

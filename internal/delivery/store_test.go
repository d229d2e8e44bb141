package delivery

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/store"
)

func testStore(t *testing.T) (*Store, *store.DB, *bus.Bus) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b := bus.New()
	return NewStore(db, b, nil), db, b
}

func TestRecordAndLatestStatus(t *testing.T) {
	s, _, b := testStore(t)

	ch, unsub := b.Subscribe("status.", 10)
	defer unsub()

	if _, err := s.RecordStatus("m1", store.StatusSending, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordStatus("m1", store.StatusSent, ""); err != nil {
		t.Fatal(err)
	}

	rec, err := s.LatestStatus("m1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != store.StatusSent {
		t.Errorf("latest = %+v, want sent", rec)
	}

	// Both transitions publish.
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			if evt.Kind != bus.KindStatusChanged {
				t.Errorf("event kind = %q", evt.Kind)
			}
		case <-time.After(time.Second):
			t.Fatal("missing status.changed event")
		}
	}
}

func TestBatchStatusesChunksAndMerges(t *testing.T) {
	s, _, _ := testStore(t)

	// More keys than one chunk (10) to force chunked lookups.
	var keys []string
	for i := 0; i < 25; i++ {
		key := fmt.Sprintf("m%d", i)
		keys = append(keys, key)
		if _, err := s.RecordStatus(key, store.StatusSent, ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.RecordStatus("m7", store.StatusRead, "u2"); err != nil {
		t.Fatal(err)
	}

	got, err := s.BatchStatuses(keys)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 25 {
		t.Fatalf("got %d entries, want 25", len(got))
	}
	if got["m7"].Status != store.StatusRead {
		t.Errorf("m7 = %q, want read (latest wins)", got["m7"].Status)
	}
	if got["m3"].Status != store.StatusSent {
		t.Errorf("m3 = %q, want sent", got["m3"].Status)
	}
}

func TestMarkReadBatch(t *testing.T) {
	s, db, _ := testStore(t)

	keys := []string{"m1", "m2", "m3"}
	if err := s.MarkRead(keys, "u2"); err != nil {
		t.Fatal(err)
	}

	for _, key := range keys {
		rec, err := s.LatestStatus(key)
		if err != nil {
			t.Fatal(err)
		}
		if rec == nil || rec.Status != store.StatusRead || rec.UserID != "u2" {
			t.Errorf("%s latest = %+v, want read by u2", key, rec)
		}
		n, err := db.CountReaders(key, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("%s readers = %d, want 1", key, n)
		}
	}
}

func TestReadProgress(t *testing.T) {
	s, _, _ := testStore(t)

	if err := s.MarkRead([]string{"m1"}, "u2"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkRead([]string{"m1"}, "u3"); err != nil {
		t.Fatal(err)
	}

	read, total, err := s.ReadProgress("m1", "u1", 4)
	if err != nil {
		t.Fatal(err)
	}
	if read != 2 || total != 3 {
		t.Errorf("progress = %d/%d, want 2/3", read, total)
	}
}

func TestSubscribeDeliversChanges(t *testing.T) {
	s, _, _ := testStore(t)

	var mu sync.Mutex
	got := map[string][]string{}
	cancel := s.Subscribe([]string{"m1", "m2"}, func(rec store.StatusRecord) {
		mu.Lock()
		got[rec.MsgKey] = append(got[rec.MsgKey], rec.Status)
		mu.Unlock()
	}, nil)
	defer cancel()

	if _, err := s.RecordStatus("m1", store.StatusSent, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordStatus("m3", store.StatusSent, ""); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got["m1"])
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got["m1"]) == 0 || got["m1"][len(got["m1"])-1] != store.StatusSent {
		t.Errorf("m1 changes = %v, want sent delivered", got["m1"])
	}
	if len(got["m3"]) != 0 {
		t.Errorf("unsubscribed key m3 received changes: %v", got["m3"])
	}
}

func TestSubscribeCatchesStatusDuringSetup(t *testing.T) {
	s, _, _ := testStore(t)

	if _, err := s.RecordStatus("m1", store.StatusSending, ""); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var statuses []string
	var once sync.Once
	cancel := s.Subscribe([]string{"m1"}, func(rec store.StatusRecord) {
		mu.Lock()
		statuses = append(statuses, rec.Status)
		mu.Unlock()
		// A transition landing while the snapshot is still being
		// delivered must reach the watcher, not fall into a gap between
		// the snapshot read and the bus subscription.
		once.Do(func() {
			if _, err := s.RecordStatus("m1", store.StatusSent, ""); err != nil {
				t.Error(err)
			}
		})
	}, nil)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(statuses)
		last := ""
		if n > 0 {
			last = statuses[n-1]
		}
		mu.Unlock()
		if last == store.StatusSent {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	t.Errorf("statuses = %v, want trailing sent", statuses)
}

func TestSubscribeInitialSnapshot(t *testing.T) {
	s, _, _ := testStore(t)

	if _, err := s.RecordStatus("m1", store.StatusSent, ""); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var statuses []string
	cancel := s.Subscribe([]string{"m1"}, func(rec store.StatusRecord) {
		mu.Lock()
		statuses = append(statuses, rec.Status)
		mu.Unlock()
	}, nil)
	defer cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 1 || statuses[0] != store.StatusSent {
		t.Errorf("initial snapshot = %v, want [sent]", statuses)
	}
}

package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/delivery"
	"github.com/chirpchat/chirp/internal/ingest"
	"github.com/chirpchat/chirp/internal/remote"
	"github.com/chirpchat/chirp/internal/retry"
	"github.com/chirpchat/chirp/internal/store"
)

type failingSender struct{}

func (failingSender) SendText(ctx context.Context, chatID, body string) (string, error) {
	return "", errors.New("connection reset")
}

func testSender(t *testing.T, ms remote.MessageSender, queue *retry.Queue) (*Sender, *store.DB, *bus.Bus) {
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
	d := delivery.NewStore(db, b, zap.NewNop())
	return NewSender(db, ms, d, queue, b, "u1", zap.NewNop()), db, b
}

func TestQueueInsertsOptimisticCopy(t *testing.T) {
	s, db, b := testSender(t, remote.NewLoopback(bus.New(), "u1"), nil)
	_ = b

	if err := s.Queue("c1", "tmp_1", "hello there"); err != nil {
		t.Fatal(err)
	}

	msg, err := db.GetMessage("c1", "tmp_1")
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil || !msg.Temporary || !msg.FromMe {
		t.Fatalf("optimistic message = %+v", msg)
	}

	rec, err := db.LatestStatus("tmp_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != store.StatusSending {
		t.Fatalf("status = %+v, want sending", rec)
	}
}

func TestProcessPendingSendsAndAcks(t *testing.T) {
	b := bus.New()
	loop := remote.NewLoopback(b, "u1")
	s, db, _ := testSender(t, loop, nil)
	ch, unsub := s.bus.Subscribe(bus.KindMessageSendAck, 4)
	defer unsub()

	if err := s.Queue("c1", "tmp_1", "hello"); err != nil {
		t.Fatal(err)
	}
	s.processPending(context.Background())

	if got := loop.Sent(); len(got) != 1 || got[0].Body != "hello" {
		t.Fatalf("loopback sent = %+v", got)
	}

	rec, err := db.LatestStatus("tmp_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != store.StatusSent {
		t.Fatalf("status = %+v, want sent", rec)
	}

	select {
	case evt := <-ch:
		ack := evt.Payload.(map[string]string)
		if ack["client_msg_id"] != "tmp_1" || ack["server_msg_id"] == "" {
			t.Errorf("ack = %v", ack)
		}
	case <-time.After(time.Second):
		t.Fatal("no send_ack event")
	}

	// Drained: a second pass must not resend.
	s.processPending(context.Background())
	if got := loop.Sent(); len(got) != 1 {
		t.Fatalf("second pass resent: %d sends", len(got))
	}
}

func TestSendFailureMarksFailedAndEnqueuesRetry(t *testing.T) {
	queue := retry.NewQueue(retry.DefaultConfig(), zap.NewNop())
	s, db, _ := testSender(t, failingSender{}, queue)

	if err := s.Queue("c1", "tmp_1", "doomed"); err != nil {
		t.Fatal(err)
	}
	s.processPending(context.Background())

	rec, err := db.LatestStatus("tmp_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != store.StatusFailed {
		t.Fatalf("status = %+v, want failed", rec)
	}
	if queue.Size() != 1 {
		t.Fatalf("queue size = %d, want 1", queue.Size())
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("failed entry still pending: %+v", pending)
	}
}

func TestOptimisticSendConfirmedByStreamEcho(t *testing.T) {
	b := bus.New()
	loop := remote.NewLoopback(b, "u1")

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	d := delivery.NewStore(db, b, zap.NewNop())
	s := NewSender(db, loop, d, nil, b, "u1", zap.NewNop())
	e := ingest.NewEngine(db, b, d, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	if err := s.Queue("c1", "tmp_1", "see you at 8"); err != nil {
		t.Fatal(err)
	}
	s.processPending(ctx)

	// The loopback echoes the confirmed copy on the stream; the engine
	// should replace the optimistic copy with it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := db.ListMessages("c1", 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) == 1 && !msgs[0].Temporary {
			if msgs[0].Body != "see you at 8" {
				t.Fatalf("confirmed message = %+v", msgs[0])
			}
			// Status history followed the message onto its server key.
			rec, err := db.LatestStatus(msgs[0].Key)
			if err != nil {
				t.Fatal(err)
			}
			if rec == nil || rec.Status != store.StatusSent {
				t.Fatalf("status after replace = %+v", rec)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("optimistic copy was never replaced by the stream echo")
}

package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/delivery"
	"github.com/chirpchat/chirp/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.DB, *bus.Bus) {
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
	e := NewEngine(db, b, delivery.NewStore(db, b, zap.NewNop()), zap.NewNop())
	return e, db, b
}

func TestIngestMessageIsIdempotent(t *testing.T) {
	e, db, _ := testEngine(t)

	msg := &store.Message{ChatID: "c1", Key: "srv_1", SenderID: "u2", Body: "hello", MessageType: "text", Timestamp: 1000}
	for i := 0; i < 3; i++ {
		if err := e.IngestMessage(msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestIngestMessageReplacesOptimisticCopy(t *testing.T) {
	e, db, _ := testEngine(t)

	temp := &store.Message{ChatID: "c1", Key: "tmp_1", Temporary: true, SenderID: "u1", FromMe: true, Body: "hi", Timestamp: 1000}
	if err := db.UpsertMessage(temp); err != nil {
		t.Fatal(err)
	}

	final := &store.Message{ChatID: "c1", Key: "srv_9", SenderID: "u1", FromMe: true, Body: "hi", Timestamp: 3000}
	if err := e.IngestMessage(final); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Key != "srv_9" || msgs[0].Temporary {
		t.Errorf("surviving message = %+v", msgs[0])
	}
}

func TestIngestMessagePublishesNewForInbound(t *testing.T) {
	e, _, b := testEngine(t)
	ch, unsub := b.Subscribe(bus.KindMessageNew, 4)
	defer unsub()

	inbound := &store.Message{ChatID: "c1", Key: "srv_2", SenderID: "u2", Body: "ping", Timestamp: 1000}
	if err := e.IngestMessage(inbound); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		m, ok := evt.Payload.(*store.Message)
		if !ok || m.Key != "srv_2" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no message.new event")
	}

	// A replay must not notify again.
	if err := e.IngestMessage(inbound); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Fatalf("replay produced %s event", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIngestMessageNoNewEventForOwnSend(t *testing.T) {
	e, db, b := testEngine(t)
	ch, unsub := b.Subscribe(bus.KindMessageNew, 4)
	defer unsub()

	temp := &store.Message{ChatID: "c1", Key: "tmp_1", Temporary: true, SenderID: "u1", FromMe: true, Body: "yo", Timestamp: 1000}
	if err := db.UpsertMessage(temp); err != nil {
		t.Fatal(err)
	}
	final := &store.Message{ChatID: "c1", Key: "srv_3", SenderID: "u1", FromMe: true, Body: "yo", Timestamp: 2000}
	if err := e.IngestMessage(final); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		t.Fatalf("own send produced %s event", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIngestMessageUpdatesChatPreview(t *testing.T) {
	e, db, _ := testEngine(t)

	if err := e.IngestMessage(&store.Message{ChatID: "c1", Key: "m1", SenderID: "u2", Body: "first", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestMessage(&store.Message{ChatID: "c1", Key: "m2", SenderID: "u2", Body: "second", Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}

	chat, err := db.GetChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil || chat.LastMessagePreview != "second" || chat.LastMessageAt != 2000 {
		t.Fatalf("chat = %+v", chat)
	}
}

func TestStreamStatusRecorded(t *testing.T) {
	e, db, b := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	b.Publish(bus.Event{
		Kind:    bus.KindRemoteStatus,
		Payload: &store.StatusRecord{MsgKey: "m1", Status: store.StatusRead, UserID: "u2", Timestamp: 5000},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := db.LatestStatus("m1")
		if err != nil {
			t.Fatal(err)
		}
		if rec != nil && rec.Status == store.StatusRead {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stream status never reached the store")
}

func TestIngestHistoryBatch(t *testing.T) {
	e, db, b := testEngine(t)
	ch, unsub := b.Subscribe(bus.KindHistoryIngested, 4)
	defer unsub()

	batch := []*store.Message{
		{ChatID: "c1", Key: "h1", SenderID: "u2", Body: "old one", Timestamp: 100},
		{ChatID: "c1", Key: "h2", SenderID: "u2", Body: "old two", Timestamp: 200},
		{ChatID: "c2", Key: "h3", SenderID: "u3", Body: "elsewhere", Timestamp: 300},
	}
	if err := e.IngestHistoryBatch(batch); err != nil {
		t.Fatal(err)
	}

	c1, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(c1) != 2 {
		t.Fatalf("c1 has %d messages, want 2", len(c1))
	}

	select {
	case evt := <-ch:
		counts, ok := evt.Payload.(map[string]int)
		if !ok || counts["messages_count"] != 3 {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no history.ingested event")
	}
}

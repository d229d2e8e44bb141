package notify

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chirpchat/chirp/internal/appstate"
	"github.com/chirpchat/chirp/internal/config"
	"github.com/chirpchat/chirp/internal/retry"
	"github.com/chirpchat/chirp/internal/store"
	"go.uber.org/zap"
)

type fakeSink struct {
	mu        sync.Mutex
	delivered []*Notification
	fail      error
}

func (f *fakeSink) Deliver(n *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.delivered = append(f.delivered, n)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

type fakeChats struct {
	chats map[string]*store.Chat
}

func (f *fakeChats) GetChat(id string) (*store.Chat, error) {
	return f.chats[id], nil
}

func defaultPrefs() config.Notifications {
	return config.Notifications{
		Enabled:        true,
		DirectMessages: true,
		GroupChats:     true,
		QuietHours:     config.QuietHours{Start: "22:00", End: "08:00", Timezone: "UTC"},
	}
}

func testPipeline(prefs config.Notifications, sink Sink) (*Pipeline, *appstate.Tracker) {
	tracker := appstate.NewTracker(nil)
	p := NewPipeline(func() config.Notifications { return prefs }, tracker, nil, sink, nil, nil, zap.NewNop())
	return p, tracker
}

func at(hhmm string) time.Time {
	t, _ := time.Parse("2006-01-02 15:04 MST", "2024-03-10 "+hhmm+" UTC")
	return t
}

func direct(body string) InboundMessage {
	return InboundMessage{ChatID: "c1", MsgKey: "m1", SenderID: "u2", SenderName: "Alice", Body: body}
}

func TestAllowWithTitleAndBody(t *testing.T) {
	p, _ := testPipeline(defaultPrefs(), nil)
	p.now = func() time.Time { return at("12:00") }

	d := p.Evaluate(direct("lunch?"))
	if !d.Allow {
		t.Fatalf("suppressed: %s", d.Reason)
	}
	if d.Notification.Title != "Alice" {
		t.Errorf("title = %q, want Alice", d.Notification.Title)
	}
	if d.Notification.Body != "lunch?" {
		t.Errorf("body = %q", d.Notification.Body)
	}
}

func TestGroupTitle(t *testing.T) {
	p, _ := testPipeline(defaultPrefs(), nil)
	p.now = func() time.Time { return at("12:00") }

	m := direct("hi all")
	m.IsGroup = true
	m.ChatName = "Weekend Plans"
	d := p.Evaluate(m)
	if !d.Allow {
		t.Fatalf("suppressed: %s", d.Reason)
	}
	if d.Notification.Title != "Alice in Weekend Plans" {
		t.Errorf("title = %q", d.Notification.Title)
	}
}

func TestBodyTruncation(t *testing.T) {
	p, _ := testPipeline(defaultPrefs(), nil)
	p.now = func() time.Time { return at("12:00") }

	long := strings.Repeat("x", 80)
	d := p.Evaluate(direct(long))
	if !d.Allow {
		t.Fatalf("suppressed: %s", d.Reason)
	}
	want := strings.Repeat("x", 50) + "..."
	if d.Notification.Body != want {
		t.Errorf("body = %q (len %d), want 50 runes + ellipsis", d.Notification.Body, len(d.Notification.Body))
	}
}

func TestActiveChatSuppression(t *testing.T) {
	p, tracker := testPipeline(defaultPrefs(), nil)
	p.now = func() time.Time { return at("12:00") }

	tracker.SetActiveChat("c1")
	d := p.Evaluate(direct("hi"))
	if d.Allow || d.Reason != ReasonActiveChat {
		t.Errorf("decision = %+v, want active chat suppression", d)
	}

	tracker.SetActiveChat("other")
	if d := p.Evaluate(direct("hi")); !d.Allow {
		t.Errorf("suppressed while viewing another chat: %s", d.Reason)
	}
}

func TestGlobalDisable(t *testing.T) {
	prefs := defaultPrefs()
	prefs.Enabled = false
	p, _ := testPipeline(prefs, nil)

	d := p.Evaluate(direct("hi"))
	if d.Allow || d.Reason != ReasonDisabled {
		t.Errorf("decision = %+v, want disabled suppression", d)
	}
}

func TestChatTypeToggles(t *testing.T) {
	prefs := defaultPrefs()
	prefs.GroupChats = false
	p, _ := testPipeline(prefs, nil)
	p.now = func() time.Time { return at("12:00") }

	m := direct("hi")
	m.IsGroup = true
	if d := p.Evaluate(m); d.Allow || d.Reason != ReasonChatTypeOff {
		t.Errorf("group decision = %+v, want chat type suppression", d)
	}
	if d := p.Evaluate(direct("hi")); !d.Allow {
		t.Errorf("direct message suppressed: %s", d.Reason)
	}
}

func TestQuietHoursBoundary(t *testing.T) {
	prefs := defaultPrefs()
	prefs.QuietHours.Enabled = true
	p, _ := testPipeline(prefs, nil)

	p.now = func() time.Time { return at("23:30") }
	if d := p.Evaluate(direct("hi")); d.Allow || d.Reason != ReasonQuietHours {
		t.Errorf("23:30 decision = %+v, want quiet hours suppression", d)
	}

	// Overnight window: early morning still suppressed.
	p.now = func() time.Time { return at("06:00") }
	if d := p.Evaluate(direct("hi")); d.Allow {
		t.Error("06:00 should be inside the overnight window")
	}

	p.now = func() time.Time { return at("09:00") }
	if d := p.Evaluate(direct("hi")); !d.Allow {
		t.Errorf("09:00 decision = %+v, want allow", d)
	}
}

func TestQuietHoursKeywordOverride(t *testing.T) {
	prefs := defaultPrefs()
	prefs.QuietHours.Enabled = true
	prefs.KeywordOverride = true
	prefs.Keywords = []string{"urgent"}
	p, _ := testPipeline(prefs, nil)
	p.now = func() time.Time { return at("23:30") }

	if d := p.Evaluate(direct("this is URGENT, call me")); !d.Allow {
		t.Errorf("keyword override ignored: %s", d.Reason)
	}
	if d := p.Evaluate(direct("nothing much")); d.Allow {
		t.Error("non-matching text allowed during quiet hours")
	}
}

func TestForegroundOnly(t *testing.T) {
	prefs := defaultPrefs()
	prefs.ForegroundOnly = true
	p, tracker := testPipeline(prefs, nil)
	p.now = func() time.Time { return at("12:00") }

	if err := tracker.Transition(appstate.Background); err != nil {
		t.Fatal(err)
	}
	if d := p.Evaluate(direct("hi")); d.Allow || d.Reason != ReasonNotForeground {
		t.Errorf("decision = %+v, want foreground suppression", d)
	}
}

func TestBadTimezoneFailsOpen(t *testing.T) {
	prefs := defaultPrefs()
	prefs.QuietHours.Enabled = true
	prefs.QuietHours.Timezone = "Not/AZone"
	p, _ := testPipeline(prefs, nil)
	p.now = func() time.Time { return at("23:30") }

	if d := p.Evaluate(direct("hi")); !d.Allow {
		t.Errorf("internal error should fail open, got %s", d.Reason)
	}
}

func TestNotifyDeliversToSink(t *testing.T) {
	sink := &fakeSink{}
	p, _ := testPipeline(defaultPrefs(), sink)
	p.now = func() time.Time { return at("12:00") }

	d := p.Notify(direct("hello"))
	if !d.Allow {
		t.Fatalf("suppressed: %s", d.Reason)
	}
	if sink.count() != 1 {
		t.Errorf("sink deliveries = %d, want 1", sink.count())
	}
}

func TestNotifyFailureEnqueuesRetry(t *testing.T) {
	sink := &fakeSink{fail: errors.New("push channel down")}
	queue := retry.NewQueue(retry.Config{BaseDelay: time.Hour, Throttle: time.Hour}, zap.NewNop())
	defer queue.EmergencyStop()

	tracker := appstate.NewTracker(nil)
	prefs := defaultPrefs()
	p := NewPipeline(func() config.Notifications { return prefs }, tracker, nil, sink, queue, nil, zap.NewNop())
	p.now = func() time.Time { return at("12:00") }

	p.Notify(direct("hello"))
	if queue.Size() != 1 {
		t.Errorf("queue size = %d, want 1", queue.Size())
	}
}

func TestInboundResolvesChatMetadata(t *testing.T) {
	chats := &fakeChats{chats: map[string]*store.Chat{
		"c1": {ID: "c1", Name: "Weekend Plans", IsGroup: true},
	}}
	tracker := appstate.NewTracker(nil)
	prefs := defaultPrefs()
	p := NewPipeline(func() config.Notifications { return prefs }, tracker, chats, nil, nil, nil, zap.NewNop())

	m := p.inbound(&store.Message{ChatID: "c1", Key: "m1", SenderID: "u2", Body: "hi"})
	if !m.IsGroup || m.ChatName != "Weekend Plans" {
		t.Errorf("inbound = %+v, want group metadata resolved", m)
	}
	if m.SenderName != "u2" {
		t.Errorf("sender name fallback = %q, want sender id", m.SenderName)
	}
}

func TestPayloadShapes(t *testing.T) {
	n := &Notification{ChatID: "c1", MsgKey: "m1", Title: "Alice", Body: "hi", Sound: "chime"}

	apns := BuildAPNS(n)
	if apns.Aps.Alert.Title != "Alice" || apns.Aps.ThreadID != "c1" {
		t.Errorf("APNS = %+v", apns)
	}
	if apns.Data["msgKey"] != "m1" {
		t.Errorf("APNS data = %v", apns.Data)
	}

	fcm := BuildFCM(n)
	if fcm.Notification.Body != "hi" || fcm.Android.Priority != "high" {
		t.Errorf("FCM = %+v", fcm)
	}
}

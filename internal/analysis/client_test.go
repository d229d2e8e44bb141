package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/retry"
)

func testRequest() *Request {
	return &Request{
		Message: RequestMessage{
			ID:          "m1",
			Text:        "lunch tomorrow at noon?",
			SenderID:    "u2",
			ChatID:      "c1",
			Timestamp:   "2026-08-28T12:00:00Z",
			MessageType: "text",
		},
		ChatContext: []ContextMessage{
			{ID: "m0", Text: "hey", SenderID: "u2", ChatID: "c1", Timestamp: "2026-08-28T11:59:00Z"},
		},
		UserID: "u1",
	}
}

func TestAnalyzeSendsRequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, APIKey: "sk-test"}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	raw, err := c.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if string(raw) != `[]` {
		t.Errorf("raw = %s", raw)
	}

	msg, ok := got["message"].(map[string]any)
	if !ok {
		t.Fatalf("message missing in %v", got)
	}
	if msg["senderId"] != "u2" || msg["chatId"] != "c1" {
		t.Errorf("message fields = %v", msg)
	}
	if got["userId"] != "u1" {
		t.Errorf("userId = %v", got["userId"])
	}
	if ctxMsgs, ok := got["chatContext"].([]any); !ok || len(ctxMsgs) != 1 {
		t.Errorf("chatContext = %v", got["chatContext"])
	}
}

func TestAnalyzeServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{Endpoint: srv.URL}, zap.NewNop())
	_, err := c.Analyze(context.Background(), testRequest())
	if err == nil {
		t.Fatal("want error on 502")
	}
	var rerr *retry.Error
	if !asRetryError(err, &rerr) {
		t.Fatalf("error type = %T", err)
	}
	if rerr.Type != retry.NetworkError {
		t.Errorf("type = %s, want NETWORK_ERROR", rerr.Type)
	}
	if !rerr.Type.Retryable() {
		t.Error("5xx should be retryable")
	}
}

func TestAnalyzeClientErrorNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{Endpoint: srv.URL}, zap.NewNop())
	_, err := c.Analyze(context.Background(), testRequest())
	var rerr *retry.Error
	if !asRetryError(err, &rerr) {
		t.Fatalf("error = %v", err)
	}
	if rerr.Type != retry.ValidationError {
		t.Errorf("type = %s, want VALIDATION_ERROR", rerr.Type)
	}
}

func TestAnalyzeTimeoutIsNetworkError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c, _ := NewClient(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop())
	_, err := c.Analyze(context.Background(), testRequest())
	var rerr *retry.Error
	if !asRetryError(err, &rerr) {
		t.Fatalf("error = %v", err)
	}
	if rerr.Type != retry.NetworkError {
		t.Errorf("type = %s, want NETWORK_ERROR", rerr.Type)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{}, zap.NewNop()); err == nil {
		t.Fatal("want error for empty endpoint")
	}
}

func asRetryError(err error, target **retry.Error) bool {
	re, ok := err.(*retry.Error)
	if ok {
		*target = re
	}
	return ok
}

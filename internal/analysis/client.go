// Package analysis calls the external message-analysis endpoint. The
// provider's reasoning is a black box; only the request/response contract
// lives here.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/metrics"
	"github.com/chirpchat/chirp/internal/retry"
)

// Config holds the analysis client configuration.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client posts messages to the analysis endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an analysis client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("analysis endpoint is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// RequestMessage is the analyzed message in the request body.
type RequestMessage struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	SenderID    string `json:"senderId"`
	ChatID      string `json:"chatId"`
	Timestamp   string `json:"timestamp"` // ISO 8601
	MessageType string `json:"messageType"`
}

// ContextMessage is one preceding chat message sent as context.
type ContextMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
	ChatID    string `json:"chatId"`
	Timestamp string `json:"timestamp"`
}

// Request is the analysis endpoint request body.
type Request struct {
	Message     RequestMessage   `json:"message"`
	ChatContext []ContextMessage `json:"chatContext"`
	UserID      string           `json:"userId"`
}

// Analyze posts the request and returns the raw response body for the
// ingestion pipeline to decode. Errors carry the retry taxonomy: timeouts
// and 5xx responses are retryable network errors, 4xx responses are not.
func (c *Client) Analyze(ctx context.Context, req *Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, retry.NewError(retry.ValidationError, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.NewError(retry.ValidationError, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.AnalysisRequests.WithLabelValues("network_error").Inc()
		return nil, retry.NewError(retry.NetworkError, fmt.Sprintf("analysis request: %v", classifyTransport(err)))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.AnalysisRequests.WithLabelValues("network_error").Inc()
		return nil, retry.NewError(retry.NetworkError, fmt.Sprintf("read response: %v", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		metrics.AnalysisRequests.WithLabelValues("ok").Inc()
		c.logger.Debug("analysis response received",
			zap.Int("status", resp.StatusCode),
			zap.Int("bytes", len(respBody)))
		return respBody, nil
	case resp.StatusCode >= 500:
		metrics.AnalysisRequests.WithLabelValues("server_error").Inc()
		return nil, retry.NewError(retry.NetworkError, fmt.Sprintf("analysis endpoint returned %d", resp.StatusCode))
	default:
		metrics.AnalysisRequests.WithLabelValues("client_error").Inc()
		return nil, retry.NewError(retry.ValidationError, fmt.Sprintf("analysis endpoint returned %d: %s", resp.StatusCode, firstLine(respBody)))
	}
}

// classifyTransport keeps timeout detail in the message so operators can
// tell a slow endpoint from an unreachable one.
func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout: %w", err)
	}
	return err
}

func firstLine(b []byte) string {
	const limit = 200
	s := string(b)
	if len(s) > limit {
		s = s[:limit]
	}
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

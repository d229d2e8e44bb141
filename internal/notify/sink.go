package notify

import (
	"encoding/json"

	"go.uber.org/zap"
)

// LogSink writes delivered notifications to the log. The daemon builds
// transport payloads but does not own a push connection; when none is
// wired, every allowed notification is still observable here.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver logs the notification with its APNS payload.
func (s *LogSink) Deliver(n *Notification) error {
	payload, err := json.Marshal(BuildAPNS(n))
	if err != nil {
		return err
	}
	s.logger.Info("notification delivered",
		zap.String("chat_id", n.ChatID),
		zap.String("msg_key", n.MsgKey),
		zap.String("title", n.Title),
		zap.ByteString("apns", payload))
	return nil
}

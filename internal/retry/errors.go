package retry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorType classifies a notification-pipeline failure.
type ErrorType string

const (
	PermissionDenied ErrorType = "PERMISSION_DENIED"
	TokenInvalid     ErrorType = "TOKEN_INVALID"
	NetworkError     ErrorType = "NETWORK_ERROR"
	ValidationError  ErrorType = "VALIDATION_ERROR"
	UnknownError     ErrorType = "UNKNOWN_ERROR"
)

// Retryable reports whether failures of this type may be retried.
// Token and permission failures require user or re-registration action,
// so retrying them is pointless by policy.
func (t ErrorType) Retryable() bool {
	switch t {
	case TokenInvalid, PermissionDenied:
		return false
	default:
		return true
	}
}

// DefaultMaxRetries bounds attempts before an item is abandoned.
const DefaultMaxRetries = 3

// Error records one pipeline failure with its retry budget.
type Error struct {
	ID         string
	Type       ErrorType
	Message    string
	Timestamp  time.Time
	RetryCount int
	MaxRetries int
	Context    map[string]string
}

// NewError creates an Error of the given type with the default retry budget.
func NewError(t ErrorType, message string) *Error {
	return &Error{
		ID:         uuid.NewString(),
		Type:       t,
		Message:    message,
		Timestamp:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

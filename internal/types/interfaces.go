package types

import (
	"context"
	"time"
)

// Validator is implemented by entities to self-validate.
type Validator interface {
	Validate() error
}

// AlertSource discovers and claims pending alerts, and records their outcome.
// File and database origins implement it.
type AlertSource interface {
	// Type identifies the source for logs and metrics.
	Type() SourceType

	// Poll claims every currently pending alert. Claimed alerts are invisible
	// to concurrent polls until completed or released.
	Poll(ctx context.Context) ([]*Alert, error)

	// Complete moves a claimed alert to the artifact location for its
	// terminal state.
	Complete(ctx context.Context, alert *Alert, outcome AlertState, reason string) error

	// Release returns a claimed alert to the pending pool untouched.
	Release(ctx context.Context, alert *Alert) error
}

// NotificationChannel sends a formatted message to one destination kind.
type NotificationChannel interface {
	// Type returns the channel type (e.g., "feed", "webhook").
	Type() ChannelType

	// Send delivers the message and any attachments. Errors are DeliveryError,
	// AppError (auth or attachment) or context errors.
	Send(ctx context.Context, msg *FormattedMessage, attachments []Attachment) (*RecordRef, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}
func (n NopLogger) With(...any) Logger { return n }

package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error codes shared by every pipeline stage.
// Components MUST use these constants instead of hardcoded strings.
const (
	// Parse / validation (terminal for the alert)
	ErrCodeParseInvalidAlert      ErrorCode = "parse_invalid_alert"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField ErrorCode = "validation_invalid_field"
	ErrCodeValidationChannel      ErrorCode = "validation_unknown_channel"

	// Auth (remote login)
	ErrCodeAuthInvalidCreds   ErrorCode = "auth_invalid_credentials"
	ErrCodeAuthUnreachable    ErrorCode = "auth_unreachable"
	ErrCodeAuthSessionExpired ErrorCode = "auth_session_expired"

	// Attachments
	ErrCodeAttachmentTooLarge ErrorCode = "attachment_too_large"
	ErrCodeAttachmentMissing  ErrorCode = "attachment_missing"
	ErrCodeAttachmentLimit    ErrorCode = "attachment_limit_exceeded"

	// Filesystem
	ErrCodeIOMoveFailed    ErrorCode = "io_move_failed"
	ErrCodeIOArchiveFailed ErrorCode = "io_archive_failed"
	ErrCodeIOReadFailed    ErrorCode = "io_read_failed"

	// Internal/Upstream
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamRejected    ErrorCode = "upstream_rejected"
)

// Terminal reports whether errors with this code should route an alert to
// the failed folder without any further attempt.
func (c ErrorCode) Terminal() bool {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "parse_"),
		strings.HasPrefix(s, "validation_"),
		strings.HasPrefix(s, "attachment_"):
		return true
	case c == ErrCodeUpstreamRejected:
		return true
	default:
		return false
	}
}

// AppError is the standard application error type used throughout the relay.
// Pipeline stages express failures as AppError so the outcome logger and the
// failure router can classify them without string matching.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from the first AppError in err's chain.
// A DeliveryError maps to the matching upstream code. Returns "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	var delErr *DeliveryError
	if errors.As(err, &delErr) {
		switch delErr.Kind {
		case DeliverySessionExpired:
			return ErrCodeAuthSessionExpired
		case DeliveryPermanent:
			return ErrCodeUpstreamRejected
		default:
			return ErrCodeUpstreamUnavailable
		}
	}
	return ErrCodeInternalUnexpected
}

// IsAuthError reports whether err is a remote login failure.
func IsAuthError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == ErrCodeAuthInvalidCreds || appErr.Code == ErrCodeAuthUnreachable
}

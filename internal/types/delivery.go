package types

import (
	"errors"
	"fmt"
)

// DeliveryKind classifies a failed delivery for the retry decision.
type DeliveryKind string

const (
	// DeliveryTransient covers network errors, 5xx, 429 and timeouts.
	DeliveryTransient DeliveryKind = "transient"
	// DeliveryPermanent covers 4xx rejections and malformed payloads.
	DeliveryPermanent DeliveryKind = "permanent"
	// DeliverySessionExpired is the 401 signal: re-authenticate once, retry once.
	DeliverySessionExpired DeliveryKind = "session_expired"
)

// DeliveryError is returned by notification channels when the remote side did
// not acknowledge the record.
type DeliveryError struct {
	Kind       DeliveryKind
	Reason     string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery %s (status %d): %s", e.Kind, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("delivery %s: %s", e.Kind, e.Reason)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewTransientError builds a retryable DeliveryError.
func NewTransientError(reason string, status int, err error) *DeliveryError {
	return &DeliveryError{Kind: DeliveryTransient, Reason: reason, StatusCode: status, Err: err}
}

// NewPermanentError builds a non-retryable DeliveryError.
func NewPermanentError(reason string, status int, err error) *DeliveryError {
	return &DeliveryError{Kind: DeliveryPermanent, Reason: reason, StatusCode: status, Err: err}
}

// NewSessionExpiredError builds the distinct 401 signal.
func NewSessionExpiredError(reason string) *DeliveryError {
	return &DeliveryError{Kind: DeliverySessionExpired, Reason: reason, StatusCode: 401}
}

// IsTransient reports whether err is a retryable delivery failure.
func IsTransient(err error) bool {
	var delErr *DeliveryError
	return errors.As(err, &delErr) && delErr.Kind == DeliveryTransient
}

// IsSessionExpired reports whether the remote rejected the session token.
func IsSessionExpired(err error) bool {
	var delErr *DeliveryError
	return errors.As(err, &delErr) && delErr.Kind == DeliverySessionExpired
}

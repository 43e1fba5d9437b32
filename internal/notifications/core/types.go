// Package core provides the delivery infrastructure shared by every
// notification channel: the retry policy, metrics backends and the outcome
// event publisher.
package core

import (
	"context"
	"time"

	"alertstream/internal/types"
)

// AttemptResult categorizes a single delivery attempt for metrics.
type AttemptResult string

const (
	AttemptSuccess        AttemptResult = "success"
	AttemptTransient      AttemptResult = "transient"
	AttemptPermanent      AttemptResult = "permanent"
	AttemptSessionExpired AttemptResult = "session_expired"
)

// ResultOf classifies a Send error for metrics.
func ResultOf(err error) AttemptResult {
	switch {
	case err == nil:
		return AttemptSuccess
	case types.IsSessionExpired(err):
		return AttemptSessionExpired
	case types.IsTransient(err):
		return AttemptTransient
	default:
		return AttemptPermanent
	}
}

// RelayMetrics abstracts telemetry for the relay pipeline.
type RelayMetrics interface {
	RecordOutcome(ctx context.Context, source types.SourceType, outcome types.AlertState)
	RecordAttempt(ctx context.Context, channel types.ChannelType, result AttemptResult)
	RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration)
	RecordCycle(ctx context.Context, source types.SourceType, duration time.Duration)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

var _ RelayMetrics = NopMetrics{}

func (NopMetrics) RecordOutcome(context.Context, types.SourceType, types.AlertState) {}
func (NopMetrics) RecordAttempt(context.Context, types.ChannelType, AttemptResult)   {}
func (NopMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration)   {}
func (NopMetrics) RecordCycle(context.Context, types.SourceType, time.Duration)      {}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy is used when configuration leaves backoff unset.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     1 * time.Second,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// overflow
		d = policy.MaxDelay
	}

	return d
}

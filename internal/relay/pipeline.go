package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alertstream/internal/notifications/core"
	"alertstream/internal/types"
)

// process runs one claimed alert to completion. Steps execute strictly in
// order: parse, validate, dedup, format, attachments, deliver, archive,
// complete.
func (r *Relay) process(ctx context.Context, alert *types.Alert) Outcome {
	log := r.logger.With("alert_id", alert.ID, "source", string(alert.Source), "cycle_id", types.GetCycleID(ctx))

	if alert.ParseErr != nil {
		return r.fail(ctx, log, alert, alert.ParseErr, Outcome{})
	}
	if err := alert.Validate(); err != nil {
		return r.fail(ctx, log, alert, err, Outcome{})
	}

	hash, err := r.hash(alert.Payload)
	if err != nil {
		return r.fail(ctx, log, alert, types.NewAppError(types.ErrCodeParseInvalidAlert, "hashing payload", err), Outcome{})
	}
	alert.ContentHash = hash

	// Two alerts with the same content in one cycle: the second waits for
	// the next cycle, where dedup sees the first one's archive entry.
	if !r.claimHash(hash) {
		log.Info("Identical content already in flight, deferring")
		return r.release(ctx, log, alert, "content in flight")
	}
	defer r.releaseHash(hash)

	dup, err := r.dedup.IsDuplicate(ctx, alert)
	if err != nil {
		log.Error("Dedup lookup failed, deferring alert", "error", err)
		return r.release(ctx, log, alert, "dedup unavailable")
	}
	if dup {
		return r.complete(ctx, log, alert, Outcome{
			State:  types.AlertDuplicate,
			Reason: "content already delivered",
		})
	}

	ch, err := r.selectChannel(alert)
	if err != nil {
		return r.fail(ctx, log, alert, err, Outcome{})
	}
	log = log.With("channel", string(ch.Type()))
	ctx = types.WithLogger(ctx, log)

	msg := r.formatter.Format(alert, r.clock.Now())
	if msg.SuffixDropped {
		log.Warn("Attribution suffix did not fit and was dropped", "length", len([]rune(msg.Text)))
	} else if msg.Truncated {
		log.Debug("Message body truncated to fit")
	}

	var atts []types.Attachment
	if r.attachments != nil {
		if atts, err = r.attachments.Load(alert.Payload); err != nil {
			return r.fail(ctx, log, alert, err, Outcome{Channel: ch.Type()})
		}
	}

	ref, attempts, err := r.deliver(ctx, log, ch, msg, atts)
	if err != nil {
		if ctx.Err() != nil {
			return r.release(ctx, log, alert, "shutdown during delivery")
		}
		return r.fail(ctx, log, alert, err, Outcome{Channel: ch.Type(), Attempts: attempts})
	}

	// Archive before the terminal move so a crash in between leaves a dedup
	// record and the reprocessed file is caught as a duplicate.
	if entry, err := r.dedup.Record(ctx, alert); err != nil {
		log.Error("Archiving delivered alert failed; dedup record missing", "error", err, "record_uri", ref.URI)
	} else {
		log.Debug("Archived delivered alert", "entry", entry)
	}

	return r.complete(ctx, log, alert, Outcome{
		State:     types.AlertDelivered,
		Channel:   ch.Type(),
		RecordURI: ref.URI,
		Attempts:  attempts,
	})
}

// selectChannel picks the first configured channel named by the alert, or
// the default channel when none is named.
func (r *Relay) selectChannel(alert *types.Alert) (types.NotificationChannel, error) {
	names := alert.TargetChannels()
	if len(names) == 0 {
		return r.channels[r.cfg.DefaultChannel], nil
	}
	for _, name := range names {
		if ch, ok := r.channels[types.ChannelType(name)]; ok {
			return ch, nil
		}
	}
	return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationChannel,
		fmt.Sprintf("no configured channel among %v", names), nil,
		map[string]any{"field": types.KeyTargetChannels})
}

// deliver sends msg with the per-alert retry budget. Only transient errors
// are retried; each attempt runs under its own deadline and a timed-out
// attempt counts as transient.
func (r *Relay) deliver(ctx context.Context, log types.Logger, ch types.NotificationChannel, msg *types.FormattedMessage, atts []types.Attachment) (*types.RecordRef, int, error) {
	policy := r.cfg.Retry
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		start := time.Now()
		ref, err := ch.Send(attemptCtx, msg, atts)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil && timedOut && ctx.Err() == nil && !types.IsTransient(err) {
			err = types.NewTransientError("attempt timed out", 0, err)
		}
		r.metrics.RecordAttempt(ctx, ch.Type(), core.ResultOf(err))
		r.metrics.RecordLatency(ctx, ch.Type(), time.Since(start))

		if err == nil {
			return ref, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if !types.IsTransient(err) {
			return nil, attempt, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := core.CalculateNextRetry(policy, attempt-1)
		log.Warn("Transient delivery failure, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"wait", wait.String(),
			"error", err,
		)
		if err := r.sleep(ctx, wait); err != nil {
			return nil, attempt, err
		}
	}
	return nil, policy.MaxAttempts, fmt.Errorf("retry budget exhausted: %w", lastErr)
}

func (r *Relay) fail(ctx context.Context, log types.Logger, alert *types.Alert, cause error, o Outcome) Outcome {
	o.State = types.AlertFailed
	o.Reason = cause.Error()
	o.ErrorCode = types.CodeOf(cause)
	return r.complete(ctx, log, alert, o)
}

// complete moves the alert to its terminal state and emits the outcome. A
// failed move releases the alert so the next cycle reprocesses it.
func (r *Relay) complete(ctx context.Context, log types.Logger, alert *types.Alert, o Outcome) Outcome {
	o.AlertID = alert.ID
	// The outcome is already decided; record it even during shutdown.
	ctx = context.WithoutCancel(ctx)
	if err := r.source.Complete(ctx, alert, o.State, o.Reason); err != nil {
		log.Error("Terminal move failed, alert stays pending",
			"outcome", string(o.State),
			"reason", o.Reason,
			"error", err,
		)
		return r.release(ctx, log, alert, "terminal move failed")
	}

	if o.State == types.AlertFailed {
		log.Error("Alert failed", "outcome", string(o.State), "reason", o.Reason, "error_code", string(o.ErrorCode))
	} else {
		log.Info("Alert completed", "outcome", string(o.State), "reason", o.Reason, "record_uri", o.RecordURI)
	}

	r.metrics.RecordOutcome(ctx, alert.Source, o.State)
	if err := r.publisher.Publish(ctx, core.OutcomeEvent{
		AlertID:     alert.ID,
		Source:      alert.Source,
		Outcome:     o.State,
		Reason:      o.Reason,
		ErrorCode:   o.ErrorCode,
		ContentHash: alert.ContentHash,
		Channel:     o.Channel,
		RecordURI:   o.RecordURI,
		CycleID:     types.GetCycleID(ctx),
		OccurredAt:  r.clock.Now(),
	}); err != nil {
		log.Warn("Failed to publish outcome event", "error", err)
	}
	return o
}

func (r *Relay) release(ctx context.Context, log types.Logger, alert *types.Alert, reason string) Outcome {
	// Release must survive a cancelled cycle context.
	rctx := context.WithoutCancel(ctx)
	if err := r.source.Release(rctx, alert); err != nil {
		log.Error("Failed to release alert", "reason", reason, "error", err)
	} else {
		log.Info("Alert released", "reason", reason)
	}
	return Outcome{AlertID: alert.ID, Reason: reason}
}

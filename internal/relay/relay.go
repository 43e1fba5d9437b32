// Package relay is the alert pipeline. Each cycle polls the configured source
// and runs every claimed alert through parse, validate, dedup, format,
// deliver, archive and terminal completion, with a bounded number of alerts
// in flight at once.
//
// Failures are isolated per alert: one alert's error is routed to its own
// terminal state and never aborts the cycle.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"alertstream/internal/notifications/core"
	"alertstream/internal/types"
)

// Deduper is the slice of the dedup store the pipeline uses.
type Deduper interface {
	Refresh(ctx context.Context) (int, error)
	IsDuplicate(ctx context.Context, alert *types.Alert) (bool, error)
	Record(ctx context.Context, alert *types.Alert) (string, error)
}

// Hasher computes the content hash of a payload.
type Hasher func(payload map[string]any) (string, error)

// MessageFormatter renders an alert as it will be posted.
type MessageFormatter interface {
	Format(alert *types.Alert, now time.Time) *types.FormattedMessage
}

// AttachmentLoader resolves the attachments an alert references.
type AttachmentLoader interface {
	Load(payload map[string]any) ([]types.Attachment, error)
}

// Recoverer is implemented by sources that can release claims abandoned by
// an earlier process.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// Config tunes the pipeline.
type Config struct {
	Workers        int
	Interval       time.Duration
	Retry          core.RetryPolicy
	AttemptTimeout time.Duration
	DefaultChannel types.ChannelType
}

// Deps are the collaborators of a Relay. Metrics, Publisher, Attachments,
// Clock and Logger are optional.
type Deps struct {
	Source      types.AlertSource
	Dedup       Deduper
	Hash        Hasher
	Formatter   MessageFormatter
	Attachments AttachmentLoader
	Channels    []types.NotificationChannel
	Metrics     core.RelayMetrics
	Publisher   core.OutcomePublisher
	Clock       types.Clock
	Logger      types.Logger
}

// Relay drives alerts from a source to a notification channel.
type Relay struct {
	source      types.AlertSource
	dedup       Deduper
	hash        Hasher
	formatter   MessageFormatter
	attachments AttachmentLoader
	channels    map[types.ChannelType]types.NotificationChannel
	metrics     core.RelayMetrics
	publisher   core.OutcomePublisher
	clock       types.Clock
	logger      types.Logger
	cfg         Config

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	lastMu sync.RWMutex
	last   *CycleReport
}

// New validates deps and applies defaults to cfg.
func New(deps Deps, cfg Config) (*Relay, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("relay: source is required")
	case deps.Dedup == nil:
		return nil, errors.New("relay: dedup store is required")
	case deps.Hash == nil:
		return nil, errors.New("relay: hash function is required")
	case deps.Formatter == nil:
		return nil, errors.New("relay: formatter is required")
	case len(deps.Channels) == 0:
		return nil, errors.New("relay: at least one notification channel is required")
	}

	channels := make(map[types.ChannelType]types.NotificationChannel, len(deps.Channels))
	for _, ch := range deps.Channels {
		if _, dup := channels[ch.Type()]; dup {
			return nil, fmt.Errorf("relay: channel %q registered twice", ch.Type())
		}
		channels[ch.Type()] = ch
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = core.DefaultRetryPolicy
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 20 * time.Second
	}
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = types.ChannelFeed
	}
	if _, ok := channels[cfg.DefaultChannel]; !ok {
		return nil, fmt.Errorf("relay: default channel %q is not registered", cfg.DefaultChannel)
	}

	r := &Relay{
		source:      deps.Source,
		dedup:       deps.Dedup,
		hash:        deps.Hash,
		formatter:   deps.Formatter,
		attachments: deps.Attachments,
		channels:    channels,
		metrics:     deps.Metrics,
		publisher:   deps.Publisher,
		clock:       deps.Clock,
		logger:      deps.Logger,
		cfg:         cfg,
		sleep:       sleepCtx,
		inflight:    make(map[string]struct{}),
	}
	if r.metrics == nil {
		r.metrics = core.NopMetrics{}
	}
	if r.publisher == nil {
		r.publisher = core.NopPublisher{}
	}
	if r.clock == nil {
		r.clock = types.RealClock{}
	}
	if r.logger == nil {
		r.logger = types.NopLogger{}
	}
	return r, nil
}

// Start prepares the pipeline: stale claims are released and the dedup
// index is loaded from the archive.
func (r *Relay) Start(ctx context.Context) error {
	if rec, ok := r.source.(Recoverer); ok {
		if err := rec.Recover(ctx); err != nil {
			return fmt.Errorf("recovering claims: %w", err)
		}
	}
	n, err := r.dedup.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("loading dedup archive: %w", err)
	}
	r.logger.Info("Relay started",
		"source", r.source.Type(),
		"archived", n,
		"workers", r.cfg.Workers,
		"interval", r.cfg.Interval.String(),
	)
	return nil
}

// Run executes cycles until ctx is cancelled. A failed cycle is logged and
// the loop continues.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Relay cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("Relay stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single poll cycle and waits for every claimed alert to
// reach a terminal state or be released.
func (r *Relay) RunOnce(ctx context.Context) (*CycleReport, error) {
	cycleID := uuid.NewString()
	ctx = types.WithCycleID(ctx, cycleID)
	start := time.Now()
	report := &CycleReport{
		CycleID:   cycleID,
		Source:    r.source.Type(),
		StartedAt: r.clock.Now(),
	}

	// Entries written by other processes since the last cycle.
	if _, err := r.dedup.Refresh(ctx); err != nil {
		r.logger.Warn("Dedup refresh failed", "error", err, "cycle_id", cycleID)
	}

	alerts, err := r.source.Poll(ctx)
	if err != nil {
		return nil, fmt.Errorf("polling %s source: %w", r.source.Type(), err)
	}
	report.Polled = len(alerts)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for _, alert := range alerts {
		g.Go(func() error {
			o := r.process(gCtx, alert)
			mu.Lock()
			report.add(o)
			mu.Unlock()
			// Error isolation: an alert's failure is its own outcome.
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	r.metrics.RecordCycle(ctx, r.source.Type(), report.Duration)
	r.setLast(report)

	if report.Polled > 0 {
		r.logger.Info("Relay cycle complete",
			"cycle_id", cycleID,
			"polled", report.Polled,
			"delivered", report.Delivered,
			"duplicates", report.Duplicates,
			"failed", report.Failed,
			"released", report.Released,
			"duration_ms", report.Duration.Milliseconds(),
		)
	}
	return report, nil
}

// LastReport returns the most recent cycle report, or nil before the first
// cycle completes.
func (r *Relay) LastReport() *CycleReport {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	return r.last
}

func (r *Relay) setLast(rep *CycleReport) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	r.last = rep
}

// claimHash marks hash as in flight. It returns false when another worker
// holds the same content in this process.
func (r *Relay) claimHash(hash string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, busy := r.inflight[hash]; busy {
		return false
	}
	r.inflight[hash] = struct{}{}
	return true
}

func (r *Relay) releaseHash(hash string) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	delete(r.inflight, hash)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

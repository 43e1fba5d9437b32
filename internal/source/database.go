package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"alertstream/internal/types"
)

// MessageStore is the slice of the message repository the source needs.
// *db.MessageRepository implements it.
type MessageStore interface {
	ClaimPending(ctx context.Context, token string, limit int) ([]*types.MessageRecord, error)
	MarkTerminal(ctx context.Context, id int64, token string, status types.MessageStatus, reason string) error
	Release(ctx context.Context, id int64, token string) error
	ResetStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseOptions configures a DatabaseSource.
type DatabaseOptions struct {
	Store        MessageStore
	Pinger       Pinger
	BatchSize    int
	ClaimTimeout time.Duration
	Logger       types.Logger
}

type claim struct {
	id    int64
	token string
}

// DatabaseSource is the PostgreSQL AlertSource.
type DatabaseSource struct {
	store        MessageStore
	pinger       Pinger
	batchSize    int
	claimTimeout time.Duration
	logger       types.Logger

	mu     sync.Mutex
	claims map[string]claim
}

var _ types.AlertSource = (*DatabaseSource)(nil)

// NewDatabaseSource validates the options.
func NewDatabaseSource(opts DatabaseOptions) (*DatabaseSource, error) {
	if opts.Store == nil {
		return nil, errors.New("source: message store is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = types.NopLogger{}
	}
	return &DatabaseSource{
		store:        opts.Store,
		pinger:       opts.Pinger,
		batchSize:    opts.BatchSize,
		claimTimeout: opts.ClaimTimeout,
		logger:       opts.Logger,
		claims:       make(map[string]claim),
	}, nil
}

func (s *DatabaseSource) Type() types.SourceType {
	return types.SourceDatabase
}

// Recover returns rows claimed longer than the claim timeout to pending.
func (s *DatabaseSource) Recover(ctx context.Context) error {
	n, err := s.store.ResetStaleClaims(ctx, s.claimTimeout)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("Reset stale message claims", "count", n)
	}
	return nil
}

// Check pings the database when a pinger was supplied.
func (s *DatabaseSource) Check(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger.Ping(ctx)
}

// Poll claims one batch of pending rows under a fresh token.
func (s *DatabaseSource) Poll(ctx context.Context) ([]*types.Alert, error) {
	token := uuid.NewString()
	recs, err := s.store.ClaimPending(ctx, token, s.batchSize)
	if err != nil {
		return nil, err
	}

	alerts := make([]*types.Alert, 0, len(recs))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		id := fmt.Sprintf("message-%d", rec.ID)
		s.claims[id] = claim{id: rec.ID, token: token}
		alerts = append(alerts, &types.Alert{
			ID:        id,
			Source:    types.SourceDatabase,
			Origin:    fmt.Sprintf("message:%d", rec.ID),
			ClaimRef:  token,
			Payload:   rec.Payload(),
			CreatedAt: rec.CreatedAt.UTC(),
			State:     types.AlertPending,
		})
	}
	return alerts, nil
}

// Complete writes the terminal status back to the row.
func (s *DatabaseSource) Complete(ctx context.Context, alert *types.Alert, outcome types.AlertState, reason string) error {
	c, err := s.take(alert.ID, false)
	if err != nil {
		return err
	}
	if err := s.store.MarkTerminal(ctx, c.id, c.token, types.MessageStatusFor(outcome), reason); err != nil {
		return err
	}
	s.take(alert.ID, true)
	alert.State = outcome
	return nil
}

// Release returns the row to pending.
func (s *DatabaseSource) Release(ctx context.Context, alert *types.Alert) error {
	c, err := s.take(alert.ID, false)
	if err != nil {
		return err
	}
	if err := s.store.Release(ctx, c.id, c.token); err != nil {
		return err
	}
	s.take(alert.ID, true)
	return nil
}

func (s *DatabaseSource) take(alertID string, remove bool) (claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[alertID]
	if !ok {
		return claim{}, fmt.Errorf("source: no claim held for %s", alertID)
	}
	if remove {
		delete(s.claims, alertID)
	}
	return c, nil
}

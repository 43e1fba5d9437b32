// Package session owns the authenticated remote session shared by every
// delivery worker.
//
// State machine: NoSession -> Authenticating -> Valid -> (expiry) -> Authenticating -> ...
//
// Readers take the cached session through an atomic pointer and never block
// while it is valid. Creation and renewal run under a single renewal lock;
// callers that find the session absent or expired queue on that lock, and
// whoever acquires it first performs the login. Everyone after it re-checks
// and finds the fresh session, so N concurrent callers cause one login.
//
// A rejected login is remembered for the rest of the poll cycle it happened
// in, so workers of that cycle fail fast instead of each presenting the same
// bad credentials again.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"alertstream/internal/types"
)

const (
	// DefaultTTL applies when the login response carries no expiry.
	DefaultTTL = 3600 * time.Second

	defaultRetryWait = 2 * time.Second
)

// Authenticator performs the remote login call.
type Authenticator interface {
	CreateSession(ctx context.Context, identifier string, password types.SecretString) (*types.SessionGrant, error)
}

// Credentials identify the relay's account on the remote service.
type Credentials struct {
	Identifier string
	Password   types.SecretString
}

// Options configures a Manager.
type Options struct {
	DefaultTTL time.Duration
	// MaxRetries bounds extra login attempts after a transient failure.
	// Rejected credentials are never retried.
	MaxRetries int
	RetryWait  time.Duration
	Clock      types.Clock
	Logger     types.Logger
}

// Manager caches the session and serializes renewal.
type Manager struct {
	auth       Authenticator
	creds      Credentials
	defaultTTL time.Duration
	maxRetries int
	retryWait  time.Duration
	clock      types.Clock
	logger     types.Logger

	current atomic.Pointer[types.Session]
	// rejected is the credential rejection of the current cycle, if any.
	rejected atomic.Pointer[rejection]
	// renewLock is a one-slot semaphore so waiters can give up on ctx.
	renewLock chan struct{}
	logins    atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error
}

type rejection struct {
	cycleID string
	err     error
}

// NewManager returns a Manager with no session. The first GetValidSession
// logs in.
func NewManager(auth Authenticator, creds Credentials, opts Options) (*Manager, error) {
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if creds.Identifier == "" || creds.Password.IsZero() {
		return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "identifier and password are required", nil)
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	if opts.Clock == nil {
		opts.Clock = types.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = types.NopLogger{}
	}
	return &Manager{
		auth:       auth,
		creds:      creds,
		defaultTTL: opts.DefaultTTL,
		maxRetries: opts.MaxRetries,
		retryWait:  opts.RetryWait,
		clock:      opts.Clock,
		logger:     opts.Logger.With("component", "session"),
		renewLock:  make(chan struct{}, 1),
		sleep:      sleepCtx,
	}, nil
}

// GetValidSession returns a session that is not expired at the time of the
// call, logging in first when needed. Fails with an auth_* AppError.
func (m *Manager) GetValidSession(ctx context.Context) (*types.Session, error) {
	if s := m.current.Load(); !s.Expired(m.clock.Now()) {
		return s, nil
	}

	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	// Another caller may have logged in while we waited.
	if s := m.current.Load(); !s.Expired(m.clock.Now()) {
		return s, nil
	}
	return m.login(ctx)
}

// Renew forces a fresh login because stale was rejected by the remote. If
// the cached session already differs from stale, someone else renewed it and
// that session is returned without another login. Pass nil to force a login
// unconditionally.
func (m *Manager) Renew(ctx context.Context, stale *types.Session) (*types.Session, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	cur := m.current.Load()
	if stale != nil && cur != nil && cur != stale && !cur.Expired(m.clock.Now()) {
		return cur, nil
	}
	m.current.Store(nil)
	m.logger.Info("Forcing re-authentication")
	return m.login(ctx)
}

// Current returns the cached session without validating it.
func (m *Manager) Current() *types.Session {
	return m.current.Load()
}

// Logins returns the number of successful logins performed.
func (m *Manager) Logins() int64 {
	return m.logins.Load()
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.renewLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return types.NewAppError(types.ErrCodeAuthUnreachable, "waiting for session renewal", ctx.Err())
	}
}

func (m *Manager) release() {
	<-m.renewLock
}

// rejectedInCycle returns the credential rejection already seen in ctx's
// cycle. Calls outside a cycle always log in.
func (m *Manager) rejectedInCycle(ctx context.Context) error {
	id := types.GetCycleID(ctx)
	if id == "" {
		return nil
	}
	if r := m.rejected.Load(); r != nil && r.cycleID == id {
		return r.err
	}
	return nil
}

// login must be called with the renewal lock held.
func (m *Manager) login(ctx context.Context) (*types.Session, error) {
	if err := m.rejectedInCycle(ctx); err != nil {
		m.logger.Debug("Skipping login, credentials already rejected this cycle")
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			m.logger.Warn("Retrying login", "attempt", attempt+1, "error", lastErr)
			if err := m.sleep(ctx, m.retryWait*time.Duration(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		grant, err := m.auth.CreateSession(ctx, m.creds.Identifier, m.creds.Password)
		if err == nil {
			return m.publish(grant), nil
		}
		lastErr = err

		if types.CodeOf(err) == types.ErrCodeAuthInvalidCreds {
			m.logger.Error("Login rejected", "identifier", m.creds.Identifier, "error", err)
			m.rejected.Store(&rejection{cycleID: types.GetCycleID(ctx), err: err})
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}
	}
	m.logger.Error("Login failed after retries", "attempts", m.maxRetries+1, "error", lastErr)
	return nil, types.NewAppError(types.ErrCodeAuthUnreachable,
		fmt.Sprintf("login failed after %d attempts", m.maxRetries+1), lastErr)
}

func (m *Manager) publish(grant *types.SessionGrant) *types.Session {
	now := m.clock.Now()
	s := &types.Session{
		AccessToken: grant.AccessToken,
		AccountID:   grant.AccountID,
		IssuedAt:    now,
		ExpiresAt:   m.expiry(grant, now),
	}
	m.current.Store(s)
	m.rejected.Store(nil)
	m.logins.Add(1)
	m.logger.Info("Session established", "account_id", s.AccountID, "expires_at", s.ExpiresAt)
	return s
}

// expiry prefers the explicit TTL, then the access token's exp claim, then
// the default TTL.
func (m *Manager) expiry(grant *types.SessionGrant, now time.Time) time.Time {
	if grant.ExpiresInSeconds > 0 {
		return now.Add(time.Duration(grant.ExpiresInSeconds) * time.Second)
	}
	if exp, ok := tokenExpiry(grant.AccessToken); ok && exp.After(now) {
		return exp
	}
	return now.Add(m.defaultTTL)
}

// tokenExpiry reads the exp claim without verifying the signature; the
// relay is not the audience and only uses it as a renewal hint.
func tokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.UTC(), true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

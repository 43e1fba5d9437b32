// Package source discovers pending alerts and records their outcomes.
//
// FileSource watches an inbox directory of YAML alert files; DatabaseSource
// claims rows from the message table. Both implement types.AlertSource and
// guarantee that a claimed alert is invisible to every other poll until it is
// completed or released.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"alertstream/internal/transition"
	"alertstream/internal/types"
)

var alertExtensions = map[string]bool{".yaml": true, ".yml": true}

// FileOptions configures a FileSource.
type FileOptions struct {
	Transitions *transition.Manager
	// Prefix is the recognized file-name prefix, e.g. "alert_".
	Prefix string
	// ClaimTimeout is how old a claim must be before Recover treats it as
	// abandoned. It must exceed the longest time one alert can spend in
	// delivery.
	ClaimTimeout time.Duration
	Clock        types.Clock
	Logger       types.Logger
}

const defaultClaimTimeout = 10 * time.Minute

// FileSource is the inbox-directory AlertSource.
type FileSource struct {
	tm           *transition.Manager
	prefix       string
	claimTimeout time.Duration
	clock        types.Clock
	logger       types.Logger
}

var _ types.AlertSource = (*FileSource)(nil)

// NewFileSource validates the options.
func NewFileSource(opts FileOptions) (*FileSource, error) {
	if opts.Transitions == nil {
		return nil, errors.New("source: transition manager is required")
	}
	if opts.Clock == nil {
		opts.Clock = types.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = types.NopLogger{}
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = defaultClaimTimeout
	}
	return &FileSource{
		tm:           opts.Transitions,
		prefix:       opts.Prefix,
		claimTimeout: opts.ClaimTimeout,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}, nil
}

func (s *FileSource) Type() types.SourceType {
	return types.SourceFile
}

// Recover releases claims older than the claim timeout. Claims held by
// another live process stay put.
func (s *FileSource) Recover(ctx context.Context) error {
	_, err := s.tm.Recover(s.claimTimeout)
	return err
}

// Check verifies the inbox is writable.
func (s *FileSource) Check(ctx context.Context) error {
	f, err := os.CreateTemp(s.tm.Layout().Inbox, ".probe-*")
	if err != nil {
		return fmt.Errorf("inbox not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Poll claims every recognized file in the inbox root, oldest name first.
// A file that fails to parse is still returned, with ParseErr set, so the
// caller can route it to failed.
func (s *FileSource) Poll(ctx context.Context) ([]*types.Alert, error) {
	entries, err := os.ReadDir(s.tm.Layout().Inbox)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeIOReadFailed, "listing inbox", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !s.recognized(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var alerts []*types.Alert
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		origin := filepath.Join(s.tm.Layout().Inbox, name)
		claimed, err := s.tm.Claim(origin)
		if errors.Is(err, transition.ErrAlreadyClaimed) {
			continue
		}
		if err != nil {
			s.logger.Error("Failed to claim alert file", "file", name, "error", err)
			continue
		}
		alerts = append(alerts, s.load(name, origin, claimed))
	}
	return alerts, nil
}

func (s *FileSource) recognized(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, transition.ProcessingSuffix) {
		return false
	}
	if s.prefix != "" && !strings.HasPrefix(name, s.prefix) {
		return false
	}
	return alertExtensions[strings.ToLower(filepath.Ext(name))]
}

func (s *FileSource) load(name, origin, claimed string) *types.Alert {
	alert := &types.Alert{
		ID:       strings.TrimSuffix(name, filepath.Ext(name)),
		Source:   types.SourceFile,
		Origin:   origin,
		ClaimRef: claimed,
		State:    types.AlertPending,
	}

	data, err := os.ReadFile(claimed)
	if err != nil {
		alert.ParseErr = types.NewAppError(types.ErrCodeIOReadFailed, "reading alert file", err)
		return alert
	}
	payload, err := ParsePayload(data)
	if err != nil {
		alert.ParseErr = err
		return alert
	}
	alert.Payload = payload
	if created, err := types.ParseCreatedAt(payload[types.KeyCreatedAt], s.clock.Now()); err == nil {
		alert.CreatedAt = created
	}
	return alert
}

// ParsePayload decodes a YAML alert document into a top-level mapping.
func ParsePayload(data []byte) (map[string]any, error) {
	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeParseInvalidAlert, "alert file is not valid YAML", err)
	}
	if payload == nil {
		return nil, types.NewAppError(types.ErrCodeParseInvalidAlert, "alert file is empty", nil)
	}
	return payload, nil
}

// Complete moves the claimed file into the folder for outcome.
func (s *FileSource) Complete(ctx context.Context, alert *types.Alert, outcome types.AlertState, reason string) error {
	dest, err := s.tm.MoveToTerminal(alert.ClaimRef, outcome)
	if err != nil {
		return err
	}
	alert.State = outcome
	alert.ClaimRef = dest
	return nil
}

// Release puts the file back under its original name.
func (s *FileSource) Release(ctx context.Context, alert *types.Alert) error {
	path, err := s.tm.Release(alert.ClaimRef)
	if err != nil {
		return err
	}
	alert.ClaimRef = ""
	alert.Origin = path
	return nil
}

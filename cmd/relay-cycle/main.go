// Package main is the entrypoint for the relay-cycle Lambda function.
//
// An EventBridge schedule invokes it; each invocation runs exactly one relay
// cycle and returns the cycle report. Wiring happens once per cold start and
// is reused by warm invocations. The dedup archive and inbox must live on a
// mounted file system (EFS) for the file source, or ALERT_SOURCE=database is
// used.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-lambda-go/lambda"

	"alertstream/internal/app"
	"alertstream/internal/config"
	"alertstream/internal/relay"
	"alertstream/internal/types"
)

// CycleInput is the scheduled event payload. All fields are optional.
type CycleInput struct {
	// DryRun skips the cycle and only reports readiness.
	DryRun bool `json:"dry_run,omitempty"`
}

type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

// cycleRunner is the part of the relay a handler drives.
type cycleRunner interface {
	Start(ctx context.Context) error
	RunOnce(ctx context.Context) (*relay.CycleReport, error)
}

// Handler runs one cycle per invocation. Start runs on the first invocation
// only. Recovery releases only claims older than the claim timeout, so other
// containers' in-flight files are safe.
type Handler struct {
	relay  cycleRunner
	logger types.Logger

	startOnce sync.Once
	startErr  error
}

// NewHandler wraps r.
func NewHandler(r cycleRunner, logger types.Logger) *Handler {
	return &Handler{relay: r, logger: logger}
}

// Handle is the Lambda entry point.
func (h *Handler) Handle(ctx context.Context, in CycleInput) (*relay.CycleReport, error) {
	h.startOnce.Do(func() {
		h.startErr = h.relay.Start(ctx)
	})
	if h.startErr != nil {
		h.logger.Error("Relay start failed", "error", h.startErr)
		return nil, fmt.Errorf("relay start: %w", h.startErr)
	}
	if in.DryRun {
		h.logger.Info("Dry run: relay ready, cycle skipped")
		return &relay.CycleReport{}, nil
	}

	report, err := h.relay.RunOnce(ctx)
	if err != nil {
		h.logger.Error("Relay cycle failed", "error", err)
		return nil, fmt.Errorf("relay cycle: %w", err)
	}
	h.logger.Info("Relay cycle finished",
		"cycle_id", report.CycleID,
		"polled", report.Polled,
		"delivered", report.Delivered,
		"duplicates", report.Duplicates,
		"failed", report.Failed,
		"released", report.Released,
	)
	return report, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("relay-cycle Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	typed := &slogAdapter{logger: logger}

	a, err := app.Build(context.Background(), cfg, typed, app.Overrides{})
	if err != nil {
		logger.Error("Failed to wire relay", "error", err)
		os.Exit(1)
	}

	logger.Info("relay-cycle Lambda initialized",
		"version", cfg.Build.Version,
		"source", cfg.Inbox.Source,
	)
	lambda.Start(NewHandler(a.Relay, typed).Handle)
}

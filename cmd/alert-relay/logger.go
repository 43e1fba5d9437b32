package main

import (
	"io"
	"log/slog"
	"strings"

	"alertstream/internal/types"
)

// slogAdapter wraps *slog.Logger to implement types.Logger, whose With
// returns types.Logger rather than *slog.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

var _ types.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// newLogger returns a JSON logger. verbose forces debug regardless of level.
func newLogger(w io.Writer, level string, verbose bool) *slogAdapter {
	lvl := parseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	return &slogAdapter{logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

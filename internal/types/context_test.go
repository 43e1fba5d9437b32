package types

import (
	"context"
	"testing"
)

func TestCycleIDRoundTrip(t *testing.T) {
	ctx := WithCycleID(context.Background(), "c-123")
	if got := GetCycleID(ctx); got != "c-123" {
		t.Errorf("GetCycleID() = %q, want %q", got, "c-123")
	}
	if got := GetCycleID(context.Background()); got != "" {
		t.Errorf("GetCycleID() on empty context = %q, want empty", got)
	}
}

func TestLoggerFrom(t *testing.T) {
	fallback := NopLogger{}
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("expected fallback logger")
	}

	stored := &countingLogger{}
	ctx := WithLogger(context.Background(), stored)
	if got := LoggerFrom(ctx, fallback); got != stored {
		t.Error("expected stored logger")
	}
}

type countingLogger struct{ NopLogger }

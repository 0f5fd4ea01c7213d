package logging

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "vfs.log")

	logger, err := New(Config{Level: "debug", Format: "json", OutputPath: out})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("hello")
	_ = logger.Sync()

	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug level should be enabled")
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	logger, err := New(Config{Level: "chatty", Format: "console", OutputPath: "stderr"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug should be disabled at info level")
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Error("info should be enabled")
	}
}

func TestFromContext(t *testing.T) {
	fallback := Nop()
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Error("expected fallback logger for empty context")
	}

	scoped := Nop().With(zap.String("mount", "home"))
	ctx := NewContext(context.Background(), scoped)
	if got := FromContext(ctx, fallback); got != scoped {
		t.Error("expected logger stored in context")
	}
}

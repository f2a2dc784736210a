package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"ispctl/internal/config"
)

func TestNew_Levels(t *testing.T) {
	t.Parallel()

	log, err := New(config.LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info enabled at warn level")
	}
	if !log.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error disabled at warn level")
	}

	log, err = New(config.LogConfig{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("New console: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug disabled")
	}
}

func TestNew_RejectsBadLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(config.LogConfig{Level: "loud", Format: "json"}); err == nil {
		t.Fatalf("expected error")
	}
}

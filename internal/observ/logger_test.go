package observ

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		level string
	}{
		{"development debug", "development", "debug"},
		{"production info", "production", "info"},
		{"unknown level falls back to info", "development", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger("beacon-test", tt.env, tt.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("expected logger")
			}
			logger.Info("hello")
		})
	}
}

func TestNewLogger_LevelFallback(t *testing.T) {
	logger, err := NewLogger("beacon-test", "development", "loud")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be disabled when level falls back to info")
	}
}

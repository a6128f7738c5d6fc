package logging

import (
	"log/slog"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"debug level", "debug"},
		{"info level", "info"},
		{"warn level", "warn"},
		{"error level", "error"},
		{"unknown defaults to info", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(Config{Level: tt.level, Format: "text"})
			if logger == nil || logger.Logger == nil {
				t.Fatal("NewLogger returned nil")
			}
		})
	}
}

func TestDefaultInitializesOnce(t *testing.T) {
	first := Default()
	second := Default()

	if first != second {
		t.Error("Default() should return the same instance")
	}
}

func TestChildLoggers(t *testing.T) {
	logger := NewLogger(Config{Level: "info", Format: "text"})

	if logger.WithComponent("engine") == nil {
		t.Error("WithComponent returned nil")
	}
	if logger.WithOperation("apply") == nil {
		t.Error("WithOperation returned nil")
	}
	if logger.WithNode("node-1") == nil {
		t.Error("WithNode returned nil")
	}
}

func TestDynamicLevelVar(t *testing.T) {
	lv := NewDynamicLevelVar(slog.LevelInfo)

	if !lv.SetFromString("debug") {
		t.Error("SetFromString should accept debug")
	}
	if lv.Level() != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", lv.Level())
	}

	if lv.SetFromString("nonsense") {
		t.Error("SetFromString should reject unknown levels")
	}
}

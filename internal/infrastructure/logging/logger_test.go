package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/adbmux/internal/infrastructure/config"
)

func TestNew(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", "discard", ""} {
		t.Run(output, func(t *testing.T) {
			logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: output}, "1.0.0")
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewWithWriter_JSONDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test")

	logger.Component("watch").Info("poll finished", "changes", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output %q: %v", buf.String(), err)
	}

	want := map[string]any{
		"msg":       "poll finished",
		"service":   "adbmux",
		"version":   "test",
		"component": "watch",
		"changes":   float64(2),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("entry[%q] = %v, want %v", k, entry[k], v)
		}
	}
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "test")

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "service=adbmux") {
		t.Errorf("warn entry missing or without default fields: %q", out)
	}
}

func TestLogger_With(t *testing.T) {
	logger := Default()
	child := logger.With("component", "mqtt")

	if child == nil || child == logger {
		t.Error("expected a distinct child logger")
	}
}

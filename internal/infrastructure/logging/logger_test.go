package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/gatekeeper/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		for _, output := range []string{"stdout", "stderr"} {
			logger := New(config.LoggingConfig{Level: "info", Format: format, Output: output}, "1.0.0")
			if logger == nil {
				t.Fatalf("New(%s, %s) returned nil", format, output)
			}
		}
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
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewWithWriter_DefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test-version")

	logger.Info("session opened", "user_id", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry["service"] != "gatekeeper" {
		t.Errorf("service = %v, want gatekeeper", entry["service"])
	}
	if entry["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", entry["version"])
	}
	if entry["msg"] != "session opened" {
		t.Errorf("msg = %v, want 'session opened'", entry["msg"])
	}
	if entry["user_id"] != float64(7) {
		t.Errorf("user_id = %v, want 7", entry["user_id"])
	}
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "v")

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn record missing from output")
	}
}

func TestLogger_WithAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Format: "json"}, "v")

	child := logger.With("request_id", "abc")
	if child == logger {
		t.Error("expected child logger to be different from parent")
	}
	child.Component("gate").Info("denied")

	out := buf.String()
	if !strings.Contains(out, `"component":"gate"`) || !strings.Contains(out, `"request_id":"abc"`) {
		t.Errorf("output missing inherited attributes: %s", out)
	}
}

func TestDefaultAndDiscard(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
	// Must not panic
	Discard().Error("nothing to see")
}

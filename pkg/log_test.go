package pkg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogLevel(tt.level)
			if got := GetLogLevel(); got != tt.level {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, nil)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Warn("test message")
	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("log output missing message: %s", buf.String())
	}
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, nil)
	if logger == nil {
		t.Fatal("NewJSONLogger returned nil")
	}

	logger.Warn("test message")
	output := buf.String()
	if !strings.Contains(output, `"msg":"test message"`) {
		t.Errorf("JSON log output missing message: %s", output)
	}
}

// =============================================================================
// Component Logging Tests
// =============================================================================

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := DefaultLogger
	level := GetLogLevel()
	t.Cleanup(func() {
		SetLogger(original)
		SetLogLevel(level)
	})
	SetLogLevel(slog.LevelDebug)
	SetLogger(NewLogger(&buf, nil))
	return &buf
}

func TestComponentLogging(t *testing.T) {
	tests := []struct {
		name      string
		log       func(Component, string, ...any)
		component Component
		level     string
	}{
		{"debug", LogDebug, ComponentChannel, "DEBUG"},
		{"info", LogInfo, ComponentAPU, "INFO"},
		{"warn", LogWarn, ComponentAYS, "WARN"},
		{"error", LogError, ComponentBridge, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			tt.log(tt.component, tt.name+" message", "key", "value")
			output := buf.String()
			if !strings.Contains(output, tt.name+" message") {
				t.Errorf("log missing message: %s", output)
			}
			if !strings.Contains(output, "component="+string(tt.component)) {
				t.Errorf("log missing component: %s", output)
			}
			if !strings.Contains(output, "level="+tt.level) {
				t.Errorf("log missing level %s: %s", tt.level, output)
			}
			if !strings.Contains(output, "key=value") {
				t.Errorf("log missing attribute: %s", output)
			}
		})
	}
}

func TestLogLevelFilters(t *testing.T) {
	buf := captureLogs(t)
	SetLogLevel(slog.LevelWarn)

	LogDebug(ComponentIRQ, "hidden")
	LogWarn(ComponentIRQ, "shown")
	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("debug message emitted at warn level: %s", output)
	}
	if !strings.Contains(output, "shown") {
		t.Errorf("warn message missing: %s", output)
	}
	if Enabled(slog.LevelDebug) {
		t.Error("Enabled(debug) = true at warn level")
	}
	if !Enabled(slog.LevelError) {
		t.Error("Enabled(error) = false at warn level")
	}
}

func TestSetLogFormat(t *testing.T) {
	original := DefaultLogger
	defer SetLogger(original)

	SetLogFormat(LogFormatJSON)
	if DefaultLogger == original {
		t.Error("SetLogFormat(JSON) did not replace the logger")
	}
	SetLogFormat(LogFormatText)
	if DefaultLogger == nil {
		t.Error("SetLogFormat(Text) left a nil logger")
	}
}

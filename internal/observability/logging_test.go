package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	logger.Info("configured", "api_key", "api_key=abcdefghijklmnop1234")

	out := buf.String()
	if strings.Contains(out, "abcdefghijklmnop1234") {
		t.Fatalf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output: %s", out)
	}
}

func TestNewLoggerRedactsErrorValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	err := errors.New("auth failed: bearer abcdefghijklmnopqrstuvwx")
	logger.Error("request failed", "error", err)

	if strings.Contains(buf.String(), "abcdefghijklmnopqrstuvwx") {
		t.Fatalf("error value leaked secret: %s", buf.String())
	}
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Debug("hidden")
	logger.Info("also hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %s", buf.String())
	}

	logger.Warn("visible")
	if buf.Len() == 0 {
		t.Fatal("expected warn output")
	}
}

func TestLogLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for input, want := range cases {
		if got := LogLevelFromString(input); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", input, got, want)
		}
	}
}

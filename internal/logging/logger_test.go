package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func captureLogger(level string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: level, JSONFormat: true, Component: "test"})
	l.output = buf
	return l, buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) LogEntry {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	return entry
}

func TestLogStructuredPairs(t *testing.T) {
	l, buf := captureLogger("INFO")
	l.Info("Signal generated", "symbol", "EURUSD", "confidence", 72.5)

	entry := lastEntry(t, buf)
	if entry.Message != "Signal generated" {
		t.Errorf("message = %q, want verbatim", entry.Message)
	}
	if entry.Fields["symbol"] != "EURUSD" {
		t.Errorf("symbol field = %v", entry.Fields["symbol"])
	}
	if entry.Fields["confidence"] != 72.5 {
		t.Errorf("confidence field = %v", entry.Fields["confidence"])
	}
}

func TestLogMessageWithPercentIsVerbatim(t *testing.T) {
	// Messages must never run through a format parser; a literal percent
	// sign stays intact even with args present.
	l, buf := captureLogger("INFO")
	l.Warn("drawdown 20% breached", "account", int64(100))

	entry := lastEntry(t, buf)
	if entry.Message != "drawdown 20% breached" {
		t.Errorf("message = %q, want literal percent preserved", entry.Message)
	}
	if entry.Fields["account"] != float64(100) { // JSON numbers decode as float64
		t.Errorf("account field = %v", entry.Fields["account"])
	}
}

func TestLogErrorValuesFlattened(t *testing.T) {
	l, buf := captureLogger("INFO")
	l.Error("Flush failed", "error", errors.New("connection refused"))

	entry := lastEntry(t, buf)
	if entry.Fields["error"] != "connection refused" {
		t.Errorf("error field = %v, want flattened message", entry.Fields["error"])
	}
}

func TestLogDanglingValue(t *testing.T) {
	l, buf := captureLogger("INFO")
	l.Info("odd args", "count", 3, "orphan")

	entry := lastEntry(t, buf)
	if entry.Fields["count"] != float64(3) {
		t.Errorf("count field = %v", entry.Fields["count"])
	}
	if entry.Fields["extra"] != "orphan" {
		t.Errorf("extra field = %v, want the dangling value", entry.Fields["extra"])
	}
}

func TestLogLevelFiltering(t *testing.T) {
	l, buf := captureLogger("WARN")
	l.Debug("hidden")
	l.Info("hidden too")
	if buf.Len() != 0 {
		t.Fatalf("below-level entries written: %s", buf.String())
	}
	l.Warn("visible")
	if buf.Len() == 0 {
		t.Fatal("warn entry suppressed")
	}
}

func TestWithFieldsAccumulate(t *testing.T) {
	l, buf := captureLogger("INFO")
	l.WithField("account", int64(7)).WithComponent("trades").Info("linked", "ticket", int64(99))

	entry := lastEntry(t, buf)
	if entry.Component != "trades" {
		t.Errorf("component = %q, want trades", entry.Component)
	}
	if entry.Fields["account"] != float64(7) || entry.Fields["ticket"] != float64(99) {
		t.Errorf("fields = %v, want account and ticket", entry.Fields)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"WARNING", WARN},
		{"error", ERROR},
		{"nonsense", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

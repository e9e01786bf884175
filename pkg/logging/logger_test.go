package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)

	logger.Info(CategoryTransport, "connected", "channel open", map[string]any{"url": "ws://x"})
	logger.Warn(CategorySearch, "decode_failed", "dropping frame", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var event Event
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("first line is not valid JSON: %v", err)
	}
	if event.Level != LevelInfo || event.Category != CategoryTransport {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should be set automatically")
	}
	if event.Details["url"] != "ws://x" {
		t.Errorf("details not preserved: %+v", event.Details)
	}
}

func TestLoggerMinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)

	logger.Debug(CategoryConsole, "tick", "should be filtered", nil)
	if buf.Len() != 0 {
		t.Errorf("debug event should be filtered at default level, got %q", buf.String())
	}

	logger.SetMinLevel(LevelDebug)
	logger.Debug(CategoryConsole, "tick", "now visible", nil)
	if buf.Len() == 0 {
		t.Error("debug event should be written after lowering min level")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	// Must not panic and must not write anywhere.
	Nop().Error(CategoryAction, "dispatch_failed", "discarded", nil)
}

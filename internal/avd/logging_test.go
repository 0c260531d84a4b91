// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := avdLogger
	avdLogger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))
	t.Cleanup(func() { avdLogger = previous })
	return &buf
}

func parseRecord(t *testing.T, line string) map[string]any {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	return record
}

func TestLogEventIncludesCorrelationAndTimestamp(t *testing.T) {
	buf := captureLogs(t)

	env := Env{CorrelationID: "corr-123"}
	logEvent(env, "test message", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	record := parseRecord(t, lines[0])
	if record["correlation_id"] != "corr-123" {
		t.Fatalf("expected correlation_id corr-123, got %#v", record["correlation_id"])
	}
	if _, ok := record["timestamp_ns"]; !ok {
		t.Fatal("expected timestamp_ns field in log record")
	}
}

func TestLogWarnUsesWarnLevel(t *testing.T) {
	buf := captureLogs(t)

	logWarn(Env{}, "flaky thing happened")

	record := parseRecord(t, strings.TrimSpace(buf.String()))
	if record["level"] != "WARN" {
		t.Fatalf("expected level WARN, got %#v", record["level"])
	}
}

func TestLineLogWriterBuffersPartialLines(t *testing.T) {
	buf := captureLogs(t)

	env := Env{CorrelationID: "corr-456"}
	writer := newLineLogWriter(env, "serial", "emulator-5554")

	_, _ = writer.Write([]byte("boot com"))
	if strings.TrimSpace(buf.String()) != "" {
		t.Fatalf("partial line logged early: %q", buf.String())
	}
	_, _ = writer.Write([]byte("pleted\nsecond line\n"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	first := parseRecord(t, lines[0])
	if first["line"] != "boot completed" {
		t.Fatalf("expected reassembled line, got %#v", first["line"])
	}
	if first["msg"] != "emulator output" {
		t.Fatalf("expected message 'emulator output', got %#v", first["msg"])
	}
	if first["serial"] != "emulator-5554" {
		t.Fatalf("expected serial field, got %#v", first["serial"])
	}
	if first["correlation_id"] != "corr-456" {
		t.Fatalf("expected correlation_id corr-456, got %#v", first["correlation_id"])
	}
}

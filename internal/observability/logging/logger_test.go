package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestJSONLoggerHonorsLevelAndService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, "api", "warn")

	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["msg"] != "kept" || entry["service"] != "api" || entry["k"] != "v" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestFromContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := NewJSONLoggerTo(&buf, "api", "info")

	ctx := WithRequestID(context.Background(), "req-42")
	FromContext(ctx, base).Info("answer_completed")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["request_id"] != "req-42" {
		t.Fatalf("expected request id, got %v", entry)
	}
	if RequestID(context.Background()) != "" {
		t.Fatalf("expected empty request id without value")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", " Warning ": "WARN", "error": "ERROR", "": "INFO", "loud": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

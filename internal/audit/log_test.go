package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"gatekit.org/internal/access"
	"gatekit.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	obs.Logger().SetOutput(&buf)
	t.Cleanup(func() { obs.Logger().SetOutput(os.Stdout) })
	return &buf
}

func TestLogEventEnrichesFromContext(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-42")
	ctx = access.ContextWithPrincipal(ctx, access.NewPrincipal(&access.User{ID: "u1"}, nil))

	if err := LogEvent(ctx, "auth.login", map[string]any{"ip": "10.0.0.1"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	var entry struct {
		Type      string         `json:"type"`
		Event     string         `json:"event"`
		RequestID string         `json:"request_id"`
		UserID    string         `json:"user_id"`
		Fields    map[string]any `json:"fields"`
		TS        string         `json:"ts"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v (raw %q)", err, buf.String())
	}
	if entry.Type != "audit" || entry.Event != "auth.login" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.RequestID != "req-42" {
		t.Fatalf("request id not propagated: %+v", entry)
	}
	if entry.UserID != "u1" {
		t.Fatalf("user id not propagated: %+v", entry)
	}
	if entry.Fields["ip"] != "10.0.0.1" {
		t.Fatalf("fields not preserved: %+v", entry.Fields)
	}
	if entry.TS == "" {
		t.Fatalf("timestamp missing")
	}
}

func TestLogEventWithoutContextualIdentity(t *testing.T) {
	buf := captureLog(t)

	if err := LogEvent(context.Background(), "session.sweep", nil); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if _, ok := entry["request_id"]; ok {
		t.Fatalf("unexpected request_id: %v", entry)
	}
	if _, ok := entry["user_id"]; ok {
		t.Fatalf("unexpected user_id: %v", entry)
	}
	if fields, ok := entry["fields"].(map[string]any); !ok || len(fields) != 0 {
		t.Fatalf("expected empty fields object, got %v", entry["fields"])
	}
}

func TestLogEventRejectsEmptyName(t *testing.T) {
	if err := LogEvent(context.Background(), "   ", nil); err == nil {
		t.Fatalf("expected error for blank event name")
	}
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := context.Background()
	if got := WithRequestID(ctx, "  "); got != ctx {
		t.Fatalf("blank request id must not allocate a new context")
	}
}

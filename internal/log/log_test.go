package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(buf *bytes.Buffer, component string) *Logger {
	return New(Config{Level: slog.LevelDebug, Component: component, Output: buf})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentLedger)

	logger.Info("Ledger event applied", FieldEventID, 42)

	out := buf.String()
	if !strings.Contains(out, "component=ledger") || !strings.Contains(out, "event_id=42") {
		t.Fatalf("unexpected log line: %s", out)
	}

	buf.Reset()
	logger.WithComponent(ComponentAudit).Warn("Balance drift")
	if !strings.Contains(buf.String(), "component=audit") {
		t.Fatalf("component not switched: %s", buf.String())
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().
		WithUser(0).
		WithEventID(0).
		WithError(nil).
		WithOperation(OpCreate)

	if _, ok := f[FieldUserID]; ok {
		t.Errorf("zero user id should be omitted")
	}
	if _, ok := f[FieldError]; ok {
		t.Errorf("nil error should be omitted")
	}

	f = NewFields().WithEvent(9, 3, "expense", "12.5", "EUR").WithError(errors.New("boom"))
	if f[FieldEventID] != int64(9) || f[FieldUserID] != int64(3) || f[FieldCurrency] != "EUR" || f[FieldError] != "boom" {
		t.Errorf("unexpected fields: %v", f)
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Errorf("ToSlice length mismatch")
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentHTTP).With(FieldRequestID, "req-1")

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).InfoContext(ctx, "inside")

	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Fatalf("request id missing: %s", buf.String())
	}
}

func TestFromContextFallback(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != ComponentApp {
		t.Fatalf("expected default logger")
	}
}

func TestRequestFinishedLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "level=INFO"},
		{201, "level=INFO"},
		{404, "level=WARN"},
		{429, "level=WARN"},
		{500, "level=ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		ctx := WithLogger(context.Background(), newBufferLogger(&buf, ComponentHTTP))
		RequestFinished(ctx, Request{
			Method: "GET", Path: "/api/accounts", UserAgent: "curl/8",
			ClientIP: "10.0.0.1", Status: tt.status, Duration: 1500 * time.Millisecond,
		})

		out := buf.String()
		if !strings.Contains(out, tt.level) {
			t.Errorf("status %d: want %s in %s", tt.status, tt.level, out)
		}
		if !strings.Contains(out, "duration_ms=1500") || !strings.Contains(out, "client_ip=10.0.0.1") {
			t.Errorf("status %d: missing fields in %s", tt.status, out)
		}
		if strings.Contains(out, "user_agent") {
			t.Errorf("completion line should not repeat the user agent: %s", out)
		}
	}
}

func TestRequestStartedIsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Component: ComponentHTTP, Output: &buf})
	ctx := WithLogger(context.Background(), logger)

	RequestStarted(ctx, Request{Method: "POST", Path: "/api/transactions"})
	if buf.Len() != 0 {
		t.Fatalf("start line logged above debug: %s", buf.String())
	}
}

func TestLedgerChangeAndFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentAudit)

	logger.LedgerChange(context.Background(), "created", 7, 3, "expense")
	out := buf.String()
	for _, want := range []string{"component=audit", "action=created", "event_id=7", "user_id=3", "event_kind=expense"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}

	buf.Reset()
	logger.Failure(context.Background(), "Request failed", errors.New("disk full"), OpCreate, nil)
	out = buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, `error="disk full"`) || !strings.Contains(out, "operation=create") {
		t.Errorf("unexpected failure line: %s", out)
	}
}

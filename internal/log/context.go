package log

import (
	"context"
	"log/slog"
	"time"
)

type loggerKey struct{}

// WithLogger returns ctx carrying logger. The trace middleware installs a
// request-scoped logger tagged with the request id; auth adds the user id.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or Default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return logger
	}
	return Default()
}

// Request describes one HTTP exchange for the access log.
type Request struct {
	Method    string
	Path      string
	Query     string
	UserAgent string
	ClientIP  string
	Status    int
	Duration  time.Duration
}

func (r Request) fields() LogFields {
	return NewFields().
		WithHTTPRequest(r.Method, r.Path, r.Query, r.UserAgent).
		WithClientIP(r.ClientIP)
}

// RequestStarted logs an incoming request at debug level.
func RequestStarted(ctx context.Context, r Request) {
	FromContext(ctx).WithComponent(ComponentHTTP).DebugContext(ctx, "HTTP request started", r.fields().ToSlice()...)
}

// RequestFinished logs a served request. 4xx answers are warnings and 5xx
// answers are errors.
func RequestFinished(ctx context.Context, r Request) {
	r.UserAgent = ""
	fields := r.fields().
		WithComponent(ComponentHTTP).
		WithHTTPResponse(r.Status, r.Duration.Milliseconds())
	FromContext(ctx).Logger.Log(ctx, statusLevel(r.Status), "HTTP request completed", fields.ToSlice()...)
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// LedgerChange logs a ledger notification received from the broker.
func (l *Logger) LedgerChange(ctx context.Context, action string, eventID, userID int64, kind string) {
	fields := NewFields().
		WithEventID(eventID).
		WithUser(userID)
	fields[FieldAction] = action
	fields[FieldEventKind] = kind

	l.InfoContext(ctx, "Ledger change received", fields.ToSlice()...)
}

// Failure logs an internal failure of op together with extra fields.
func (l *Logger) Failure(ctx context.Context, msg string, err error, op string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	l.ErrorContext(ctx, msg, fields.WithError(err).WithOperation(op).ToSlice()...)
}

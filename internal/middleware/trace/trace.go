// Package trace tags every request with an id, puts a request-scoped logger
// in its context and logs its start and completion.
package trace

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"saldo/internal/log"
)

type ContextKey string

const RequestIDKey ContextKey = "request_id"

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

const maxInboundIDLength = 64

type Middleware struct {
	logger    *log.Logger
	extractIP func(*http.Request) string

	total    atomic.Int64
	inFlight atomic.Int64
}

type Metrics struct {
	TotalRequests int64
	InFlight      int64
}

func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string) *Middleware {
	return &Middleware{
		logger:    logger,
		extractIP: extractIP,
	}
}

func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.total.Add(1)
		m.inFlight.Add(1)
		defer m.inFlight.Add(-1)

		requestID := inboundID(r)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = log.WithLogger(ctx, m.logger.With(log.FieldRequestID, requestID))
		r = r.WithContext(ctx)
		w.Header().Set(HeaderRequestID, requestID)

		entry := log.Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			UserAgent: r.UserAgent(),
			ClientIP:  clientIP,
		}
		log.RequestStarted(ctx, entry)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		entry.Status = rw.statusCode
		entry.Duration = time.Since(start)
		log.RequestFinished(ctx, entry)
	})
}

// inboundID accepts a caller supplied id if it is short and printable.
func inboundID(r *http.Request) string {
	id := r.Header.Get(HeaderRequestID)
	if id == "" || len(id) > maxInboundIDLength {
		return ""
	}
	for _, c := range id {
		if c < '!' || c > '~' {
			return ""
		}
	}
	return id
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// GetRequestID returns the id of the request ctx belongs to, if any.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests: m.total.Load(),
		InFlight:      m.inFlight.Load(),
	}
}

// Package http serves the ledger as a JSON API.
//
// Every response uses the same envelope: {"success": true, "data": ...} on
// success and {"success": false, "message": ..., "error": kind} on failure.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"saldo/internal/core"
	"saldo/internal/services"
)

// Error kinds produced by the transport itself rather than the domain.
const (
	kindUnauthorized core.Kind = "unauthorized"
	kindRateLimited  core.Kind = "rate-limited"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   core.Kind `json:"error,omitempty"`
}

// JSONResponseBuilder assembles an enveloped JSON response.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       envelope
}

// NewJSONResponse starts a successful 200 response.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
		body:       envelope{Success: true},
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.body.Data = v
	return b
}

func (b *JSONResponseBuilder) Message(msg string) *JSONResponseBuilder {
	b.body.Message = msg
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	payload, err := json.Marshal(b.body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"failed to encode response","error":"internal"}`))
		return
	}
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n"))
}

// ErrorResponse builds a failed response.
func ErrorResponse(statusCode int, kind core.Kind, message string) *JSONResponseBuilder {
	b := NewJSONResponse().Status(statusCode)
	b.body = envelope{Success: false, Message: message, Error: kind}
	return b
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind core.Kind) int {
	switch kind {
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// FailureResponse converts a service error into its response. Internal
// causes stay in the logs.
func FailureResponse(err error) *JSONResponseBuilder {
	if errors.Is(err, services.ErrInvalidCredentials) {
		return UnauthorizedError()
	}
	kind := core.KindOf(err)
	return ErrorResponse(StatusFor(kind), kind, core.Message(err))
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, core.KindInvalidInput, message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, core.KindNotFound, message)
}

func UnauthorizedError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, kindUnauthorized, "Authentication required").
		Header("WWW-Authenticate", `Basic realm="saldo", charset="UTF-8"`)
}

func RateLimitedError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, kindRateLimited, "Rate limit exceeded. Please try again later.")
}

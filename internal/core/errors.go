package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation. Callers depend on the kind, not the
// message.
type Kind string

const (
	KindInvalidInput        Kind = "invalid-input"
	KindNotFound            Kind = "not-found"
	KindForbidden           Kind = "forbidden"
	KindInsufficientBalance Kind = "insufficient-balance"
	KindInternal            Kind = "internal"
)

// Error is the classified result of a rejected ledger or catalog operation.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...any) error {
	return newError(KindInvalidInput, format, args...)
}

func NotFound(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) error {
	return newError(KindForbidden, format, args...)
}

func Insufficient(format string, args ...any) error {
	return newError(KindInsufficientBalance, format, args...)
}

// Internal wraps a storage or invariant failure.
func Internal(err error, format string, args ...any) error {
	e := newError(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf returns the classification of err. Errors that were never
// classified are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human readable part of a classified error. Internal
// causes are not exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal {
			return e.Msg
		}
		return e.Error()
	}
	return "internal error"
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

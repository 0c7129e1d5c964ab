// Package apperr defines the error taxonomy shared by every component of
// the capture plane: DNS authority, HTTP engine, store, and fan-out all
// return errors tagged with one of these kinds so the surface handler can
// map them to a stable response shape without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation purposes.
type Kind string

const (
	Auth       Kind = "Auth"
	Validation Kind = "Validation"
	NotFound   Kind = "NotFound"
	StoreRead  Kind = "StoreRead"
	StoreWrite Kind = "StoreWrite"
	Protocol   Kind = "Protocol"
	Timeout    Kind = "Timeout"
	Fatal      Kind = "Fatal"
)

// Error wraps an underlying cause with a Kind and a user-facing message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of err, defaulting to Fatal if err does not
// carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// StatusCode maps a Kind to the stable HTTP status the REST surface uses.
// Auth and Validation both map to 401 to preserve the historical behaviour
// of the original service (see spec.md section 7).
func StatusCode(kind Kind) int {
	switch kind {
	case Auth, Validation:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case StoreRead, StoreWrite:
		return http.StatusServiceUnavailable
	case Protocol:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text to surface to the client for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

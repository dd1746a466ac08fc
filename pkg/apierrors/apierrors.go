// Package apierrors defines the typed error kinds shared by every
// control-plane HTTP server, so that handlers can map an error to the
// correct status code without re-deriving the mapping at each call site.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP status mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInternal
	KindNotImplemented
)

// Error is a typed, wrapped error carrying a Kind.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, msg string, wrapped error) *Error {
	return &Error{Kind: kind, Msg: msg, err: wrapped}
}

func BadRequest(msg string, err error) error    { return newErr(KindBadRequest, msg, err) }
func Unauthorized(msg string, err error) error  { return newErr(KindUnauthorized, msg, err) }
func Forbidden(msg string, err error) error     { return newErr(KindForbidden, msg, err) }
func NotFound(msg string, err error) error      { return newErr(KindNotFound, msg, err) }
func Conflict(msg string, err error) error      { return newErr(KindConflict, msg, err) }
func Internal(msg string, err error) error      { return newErr(KindInternal, msg, err) }
func NotImplemented(msg string, err error) error { return newErr(KindNotImplemented, msg, err) }

// KindOf extracts the Kind of err, defaulting to KindInternal for errors
// that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusCode maps a Kind to its HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Package apperror defines the sentinel error kinds used across IronLayer
// services and the HTTP status each kind maps to.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for API response mapping and logging.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalid      Kind = "invalid"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindLicense      Kind = "license_required"
	KindInternal     Kind = "internal"
)

// Error is an apperror-wrapped error carrying a Kind and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NotFound is a convenience constructor for KindNotFound.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict is a convenience constructor for KindConflict.
func Conflict(message string) *Error { return New(KindConflict, message) }

// Invalid is a convenience constructor for KindInvalid.
func Invalid(message string) *Error { return New(KindInvalid, message) }

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the HTTP status code returned by internal/httpapi.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindLicense:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

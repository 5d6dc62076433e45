// Package errs holds the error kinds surfaced to HTTP and socket clients.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	Unauthenticated = NewUnauthenticatedError("unauthenticated")
	NotParticipant  = NewPermissionDeniedError("not a channel participant")
)

type Error struct {
	Kind    Kind
	Message string
	Field   *string
}

type Kind string

const (
	KindInvalidArgument     Kind = "invalid_argument"
	KindUnauthenticated     Kind = "unauthenticated"
	KindPermissionDenied    Kind = "permission_denied"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindVerificationFailed  Kind = "verification_failed"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUnavailable         Kind = "unavailable"
)

func NewInvalidArgumentError(field, message string) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Message: message,
		Field:   &field,
	}
}

func NewUnauthenticatedError(message string) *Error {
	return &Error{
		Kind:    KindUnauthenticated,
		Message: message,
	}
}

func NewPermissionDeniedError(message string) *Error {
	return &Error{
		Kind:    KindPermissionDenied,
		Message: message,
	}
}

func NewNotFoundError(message string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: message,
	}
}

func NewConflictError(message string) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: message,
	}
}

func NewVerificationFailedError(message string) *Error {
	return &Error{
		Kind:    KindVerificationFailed,
		Message: message,
	}
}

// NewUpstreamUnavailableError reports a payment gateway failure. Callers may retry.
func NewUpstreamUnavailableError(message string) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Message: message,
	}
}

// NewUnavailableError reports a transient local failure, such as a store write
// that did not go through. Callers may retry.
func NewUnavailableError(message string) *Error {
	return &Error{
		Kind:    KindUnavailable,
		Message: message,
	}
}

func (e *Error) Error() string {
	if e.Field != nil {
		return fmt.Sprintf("%s (field: %s): %s", e.Kind, *e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches a sentinel such as NotParticipant by kind and message. A target
// without a message, like &errs.Error{Kind: errs.KindConflict}, matches any
// error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// KindOf returns the kind of err, or "" when err does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the caller should retry the same operation.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstreamUnavailable, KindUnavailable:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindVerificationFailed:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Message returns the client-facing text of err. Errors without a kind are
// never shown verbatim.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

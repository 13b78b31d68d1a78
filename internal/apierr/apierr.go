// Package apierr distinguishes the error kinds the broker core must
// propagate distinctly, and maps each to a stable HTTP status code.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the ten error kinds §7 requires the core to distinguish.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	Unauthenticated      Kind = "unauthenticated"
	Forbidden            Kind = "forbidden"
	NotFound             Kind = "not_found"
	Conflict             Kind = "conflict"
	UnprocessableEntity  Kind = "unprocessable_entity"
	RetryableUpstream    Kind = "retryable_upstream"
	PermanentUpstream    Kind = "permanent_upstream"
	EncryptionFailure    Kind = "encryption_failure"
	Internal             Kind = "internal"
)

// Error is a classified application error carrying a caller-facing message
// and an optional structured detail (e.g. a list of invalid field paths).
type Error struct {
	Kind    Kind
	Message string
	Detail  any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a classified error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error, keeping it available via errors.Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetail attaches a structured detail payload and returns the receiver.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// As extracts an *Error from err, if any, via errors.As.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode maps a Kind to the stable HTTP status code §6 fixes.
func (k Kind) StatusCode() int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case UnprocessableEntity:
		return http.StatusUnprocessableEntity
	case RetryableUpstream, PermanentUpstream, EncryptionFailure, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the wire error code string used in the JSON error envelope.
func (k Kind) Code() string {
	return string(k)
}

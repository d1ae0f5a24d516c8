// Package apperror carries the error kinds that may cross the HTTP boundary.
// Services return *Error values (or wrap sentinels into them); handlers hand
// them to response.FromError, which never leaks the wrapped cause.
package apperror

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Kind is a stable, client-visible error category.
type Kind string

const (
	KindValidationFailed   Kind = "validation_failed"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindEmailNotVerified   Kind = "email_not_verified"
	KindEmailTaken         Kind = "email_taken"
	KindOTPMismatch        Kind = "otp_mismatch"
	KindOTPExpired         Kind = "otp_expired"
	KindAccountLocked      Kind = "account_locked"
	KindRateLimited        Kind = "rate_limited"
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindInvalidID          Kind = "invalid_id"
	KindDisallowedField    Kind = "disallowed_field"
	KindInvalidRequest     Kind = "invalid_request"
	KindInvalidOrExpired   Kind = "invalid_or_expired"
	KindMailDeliveryFailed Kind = "mail_delivery_failed"
	KindUpstream           Kind = "upstream_unavailable"
	KindInternal           Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidationFailed:   http.StatusBadRequest,
	KindInvalidCredentials: http.StatusBadRequest,
	KindEmailNotVerified:   http.StatusForbidden,
	KindEmailTaken:         http.StatusConflict,
	KindOTPMismatch:        http.StatusBadRequest,
	KindOTPExpired:         http.StatusBadRequest,
	KindAccountLocked:      http.StatusLocked,
	KindRateLimited:        http.StatusTooManyRequests,
	KindUnauthenticated:    http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindInvalidID:          http.StatusBadRequest,
	KindDisallowedField:    http.StatusBadRequest,
	KindInvalidRequest:     http.StatusBadRequest,
	KindInvalidOrExpired:   http.StatusBadRequest,
	KindMailDeliveryFailed: http.StatusBadGateway,
	KindUpstream:           http.StatusBadGateway,
	KindInternal:           http.StatusInternalServerError,
}

// HTTPStatus maps a kind to its response status. Unknown kinds are 500.
func HTTPStatus(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Code is the upper-case form used in the response envelope.
func (k Kind) Code() string {
	return strings.ToUpper(string(k))
}

// Error is a kind plus a message that is safe to show to clients.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperror.New(KindX, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches an internal cause that is logged but never rendered.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithRetryAfter returns a copy carrying a retry hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// WithDetails returns a copy carrying extra client-visible details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// KindOf extracts the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Shorthands used across services.
func Validation(message string) *Error { return New(KindValidationFailed, message) }
func Unauthenticated() *Error {
	return New(KindUnauthenticated, "Authentication required")
}
func Forbidden() *Error { return New(KindForbidden, "Access denied") }
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}
func Upstream(cause error) *Error {
	return Wrap(KindUpstream, "Upstream service is unavailable, try again later", cause)
}
func Internal(cause error) *Error {
	return Wrap(KindInternal, "An internal error occurred", cause)
}

// Package apierrors defines the closed error taxonomy (C11) shared by every
// layer of the gateway: the dispatcher, the adapters, and the SQL template
// engine all surface errors as *Error so the transport can map them to a
// wire envelope and HTTP status without inspecting arbitrary error strings.
package apierrors

import (
	"fmt"
	"net/http"
	"time"
)

// Kind is one of the closed set of error kinds the gateway can surface.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindRateLimited  Kind = "rate_limited"
	KindUpstream4xx  Kind = "upstream_4xx"
	KindUpstream5xx  Kind = "upstream_5xx"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindTimeout      Kind = "timeout"
	KindNetwork      Kind = "network_error"
)

// HTTPStatus maps an error kind to the wire status code (spec §7).
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream4xx, KindUpstream5xx, KindNetwork:
		return http.StatusBadGateway
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is the closed error type every component surfaces. It always
// carries a request id once it leaves the dispatcher so logs and wire
// responses can be correlated.
type Error struct {
	Kind       Kind
	Message    string
	Details    map[string]any
	RetryAfter int // seconds; only meaningful for KindRateLimited
	RequestID  string
	Timestamp  time.Time
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithRequestID returns a copy of e stamped with the given request id.
func (e *Error) WithRequestID(id string) *Error {
	cp := *e
	cp.RequestID = id
	return &cp
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Timestamp: time.Now(), cause: cause}
}

func Validation(msg string, fields map[string]any) *Error {
	e := newErr(KindValidation, msg, nil)
	e.Details = fields
	return e
}

func RateLimited(msg string, retryAfter int) *Error {
	e := newErr(KindRateLimited, msg, nil)
	if retryAfter < 1 {
		retryAfter = 1
	}
	e.RetryAfter = retryAfter
	return e
}

func NotFound(msg string, details map[string]any) *Error {
	e := newErr(KindNotFound, msg, nil)
	e.Details = details
	return e
}

func Unauthorized(msg string) *Error {
	return newErr(KindUnauthorized, msg, nil)
}

func Conflict(msg string, details map[string]any) *Error {
	e := newErr(KindConflict, msg, nil)
	e.Details = details
	return e
}

func Upstream4xx(status int, bodySnippet string, cause error) *Error {
	e := newErr(KindUpstream4xx, fmt.Sprintf("upstream returned %d", status), cause)
	e.Details = map[string]any{"status": status, "body": bodySnippet}
	return e
}

func Upstream5xx(status int, bodySnippet string, cause error) *Error {
	e := newErr(KindUpstream5xx, fmt.Sprintf("upstream returned %d", status), cause)
	e.Details = map[string]any{"status": status, "body": bodySnippet}
	return e
}

func Timeout(msg string, cause error) *Error {
	return newErr(KindTimeout, msg, cause)
}

func NetworkError(msg string, cause error) *Error {
	return newErr(KindNetwork, msg, cause)
}

func Internal(cause error) *Error {
	return newErr(KindUpstream5xx, "internal error", cause)
}

// As reports whether err is (or wraps) an *Error, mirroring errors.As
// without forcing every caller to declare the target variable inline.
func As(err error) (*Error, bool) {
	type aser interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(aser)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

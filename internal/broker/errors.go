// Package broker defines the error taxonomy shared across the
// tool-execution pipeline. Handlers map kinds to HTTP statuses; the
// executor and chat runner use kinds to decide what surfaces to the
// model versus the caller.
package broker

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindUnauthorized            Kind = "unauthorized"
	KindForbidden               Kind = "forbidden"
	KindMissingCredentials      Kind = "missing_credentials"
	KindInvalidSpec             Kind = "invalid_spec"
	KindUpstreamHTTP            Kind = "upstream_http_error"
	KindUpstreamTransport       Kind = "upstream_transport_error"
	KindMCPUnsupportedTransport Kind = "mcp_unsupported_transport"
	KindApprovalTimeout         Kind = "approval_timeout"
	KindInternal                Kind = "internal_error"
)

// Error carries a kind alongside the message. Wraps an optional cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a broker error.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a broker error around a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the kind from err, defaulting to internal_error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to the status returned to API callers.
// Internal errors surface as a generic 500; the message is logged, not
// returned.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindMissingCredentials, KindInvalidSpec, KindMCPUnsupportedTransport:
		return http.StatusUnprocessableEntity
	case KindUpstreamHTTP, KindUpstreamTransport:
		return http.StatusBadGateway
	case KindApprovalTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

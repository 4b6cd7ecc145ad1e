// Package siemerr implements the error taxonomy shared across the pipeline:
// every component wraps failures in a Kind so the HTTP layer (internal/api)
// can translate them to an HTTP status without the domain code needing to
// know about HTTP at all.
package siemerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way spec §7 lays out the taxonomy.
type Kind string

const (
	KindConfig      Kind = "config_error"
	KindValidation  Kind = "validation_error"
	KindNotFound    Kind = "not_found"
	KindAuth        Kind = "auth_error"
	KindAuthz       Kind = "authz_error"
	KindDatabase    Kind = "database_error"
	KindConnection  Kind = "connection_error"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindInternal    Kind = "internal_error"
)

// Error is the concrete error type produced by this package. Code is a
// short machine-readable identifier (e.g. "INVALID_FIELD") used in the
// {error, message, code, details?} response shape; Details carries
// structured context for the caller.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps a Kind to the status code spec §7 assigns it. No
// component produces RateLimited or Auth/Authz errors today, but the
// mapping lives here so the HTTP layer has one source of truth to consult.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return 400
	case KindAuth:
		return 401
	case KindAuthz:
		return 403
	case KindNotFound:
		return 404
	case KindTimeout:
		return 408
	case KindRateLimited:
		return 429
	case KindConnection:
		return 502
	case KindConfig, KindDatabase, KindInternal:
		return 500
	default:
		return 500
	}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain (found with
// errors.As); IsKind below compares that Kind against a wanted one.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

func IsKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }
func Internal(code, message string, cause error) *Error {
	return Wrap(KindInternal, code, message, cause)
}
func Database(code, message string, cause error) *Error {
	return Wrap(KindDatabase, code, message, cause)
}
func Connection(code, message string, cause error) *Error {
	return Wrap(KindConnection, code, message, cause)
}
func Timeout(code, message string) *Error { return New(KindTimeout, code, message) }
func Config(code, message string, cause error) *Error {
	return Wrap(KindConfig, code, message, cause)
}

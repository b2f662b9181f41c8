// Package apierror provides the closed error taxonomy for the security
// pipeline. Arbitrary internal errors are reduced to a safe, classified
// Error that can be returned to clients without leaking provider messages,
// stack traces, or file paths.
package apierror

import (
	"fmt"
	"net/http"
)

// Code identifies a category of failure. The set is closed: every error
// leaving the pipeline carries exactly one of these values.
type Code string

const (
	// CodeRateLimited indicates the caller exceeded a rate-limit window.
	CodeRateLimited Code = "RATE_LIMITED"

	// CodeUnauthorized indicates missing or invalid credentials.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeForbidden indicates the caller is authenticated but not allowed.
	CodeForbidden Code = "FORBIDDEN"

	// CodeInvalidRequest indicates a malformed or schema-violating payload.
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// CodeProviderError indicates an upstream AI provider failure.
	CodeProviderError Code = "PROVIDER_ERROR"

	// CodeInternalError is the unclassified catch-all.
	CodeInternalError Code = "INTERNAL_ERROR"

	// CodeContentBlocked indicates input rejected by injection heuristics
	// or content policy.
	CodeContentBlocked Code = "CONTENT_BLOCKED"

	// CodeRequestTooLarge indicates the declared body size exceeded the ceiling.
	CodeRequestTooLarge Code = "REQUEST_TOO_LARGE"

	// CodeTimeout indicates the handler did not settle within its deadline.
	CodeTimeout Code = "TIMEOUT"

	// CodeServiceUnavailable indicates an unreachable upstream dependency.
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

// Error is a classified pipeline error. Message is always a canned, safe
// string; the original cause is retained only for internal logging and is
// never serialized to clients.
type Error struct {
	Code       Code
	Message    string
	Retryable  bool
	RetryAfter int    // seconds; 0 means no hint
	Field      string // offending field path for validation errors
	cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the internal cause for errors.Is/As chains and logging.
// The cause never reaches response bodies.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a classified error with a caller-supplied safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithRetryAfter attaches a retry hint in seconds and marks the error retryable.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.Retryable = true
	e.RetryAfter = seconds
	return e
}

// WithField attaches the offending field path.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithCause attaches the internal cause for log correlation.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Convenience constructors for the codes the pipeline raises directly.

// ErrInvalidRequest creates a schema/parse failure error.
func ErrInvalidRequest(message string) *Error {
	return New(CodeInvalidRequest, message)
}

// ErrContentBlocked creates an injection-heuristic rejection. The message
// deliberately does not reveal which pattern matched.
func ErrContentBlocked() *Error {
	return New(CodeContentBlocked, "request blocked by content policy")
}

// ErrRateLimited creates a rate-limit denial with a retry hint.
func ErrRateLimited(retryAfter int) *Error {
	return New(CodeRateLimited, "rate limit exceeded, please slow down").
		WithRetryAfter(retryAfter)
}

// ErrRequestTooLarge creates an oversized-body rejection.
func ErrRequestTooLarge() *Error {
	return New(CodeRequestTooLarge, "request body exceeds the maximum allowed size")
}

// ErrTimeout creates a handler-deadline error.
func ErrTimeout() *Error {
	return New(CodeTimeout, "the request took too long to process").
		WithRetryAfter(5)
}

// ErrInternal creates the generic catch-all, retaining the cause for logs.
func ErrInternal(cause error) *Error {
	e := New(CodeInternalError, "an unexpected error occurred").WithCause(cause)
	e.Retryable = true
	return e
}

// StatusCode maps a code to its HTTP status. The mapping is the single
// source of truth for every response the pipeline writes.
func StatusCode(code Code) int {
	switch code {
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeInvalidRequest, CodeContentBlocked, CodeRequestTooLarge:
		return http.StatusBadRequest
	case CodeProviderError:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

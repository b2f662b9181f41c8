package apierror

import (
	"errors"
	"strings"
)

// classifierRule maps substrings of a lower-cased error message to a
// sanitized outcome. Rules are evaluated in order; the first match wins.
type classifierRule struct {
	substrings []string
	code       Code
	message    string
	retryable  bool
	retryAfter int
}

// classifierRules is the ordered classification table. More specific
// phrasings appear before generic ones so that, e.g., a provider quota
// message is classified as rate-limited rather than a provider error.
var classifierRules = []classifierRule{
	{
		substrings: []string{"connection refused", "econnrefused", "no such host", "dial tcp"},
		code:       CodeServiceUnavailable,
		message:    "the service is temporarily unavailable",
		retryable:  true,
		retryAfter: 10,
	},
	{
		substrings: []string{"timeout", "timed out", "deadline exceeded", "context canceled"},
		code:       CodeTimeout,
		message:    "the request took too long to process",
		retryable:  true,
		retryAfter: 5,
	},
	{
		substrings: []string{"rate limit", "rate_limit", "too many requests", "quota"},
		code:       CodeRateLimited,
		message:    "rate limit exceeded, please slow down",
		retryable:  true,
		retryAfter: 30,
	},
	{
		substrings: []string{"api key", "api-key", "authentication", "unauthorized", "invalid key"},
		code:       CodeProviderError,
		message:    "the AI provider rejected the request",
	},
	{
		substrings: []string{"content policy", "content_policy", "safety system", "moderation"},
		code:       CodeContentBlocked,
		message:    "request blocked by content policy",
	},
}

// Sanitize reduces an arbitrary error to a classified Error. An error that
// is already an *Error passes through unchanged; anything else is matched
// against the classification table by lower-cased message, falling back to
// the generic internal error. The original error is retained as the cause
// so callers can log it alongside the request id.
func Sanitize(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifierRules {
		for _, s := range rule.substrings {
			if strings.Contains(msg, s) {
				return &Error{
					Code:       rule.code,
					Message:    rule.message,
					Retryable:  rule.retryable,
					RetryAfter: rule.retryAfter,
					cause:      err,
				}
			}
		}
	}

	return ErrInternal(err)
}

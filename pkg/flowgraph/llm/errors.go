package llm

import (
	"fmt"
	"strings"
)

// Error is a failed completion call.
type Error struct {
	Op         string
	StatusCode int
	Err        error

	// RateLimited reports that the provider throttled the call.
	RateLimited bool
}

// NewError creates an Error.
func NewError(op string, err error, rateLimited bool) *Error {
	return &Error{Op: op, Err: err, RateLimited: rateLimited}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("llm ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.RateLimited {
		b.WriteString(" [rate limited]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the provider throttled the call.
func (e *Error) IsRateLimited() bool {
	return e.RateLimited
}

// isRateLimitStatus reports whether an HTTP status means throttling.
// 529 is Anthropic's overloaded status.
func isRateLimitStatus(code int) bool {
	return code == 429 || code == 529
}

// isRateLimitText checks if a provider message describes throttling.
func isRateLimitText(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "throttl")
}

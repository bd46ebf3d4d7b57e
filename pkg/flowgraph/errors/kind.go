// Package errors classifies workflow failures and retries transient ones.
//
// Every failure that crosses a node or service boundary falls into one Kind:
//   - RateLimited: the remote side throttled us; retried with backoff
//   - MalformedResponse: remote text did not parse; recovered locally
//   - Fatal: anything else; aborts the node and the run
//   - Cancelled: a background execution observed its cancellation signal
//   - StateConflict: an operation hit an entity in the wrong lifecycle state
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind represents how a failure should be handled.
type Kind int

const (
	// KindFatal aborts the current node and run. Not retried.
	KindFatal Kind = iota

	// KindRateLimited indicates the remote side throttled the call.
	KindRateLimited

	// KindMalformedResponse indicates remote output could not be parsed.
	KindMalformedResponse

	// KindCancelled indicates cooperative cancellation was observed.
	KindCancelled

	// KindStateConflict indicates an entity was not in the required state.
	KindStateConflict
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformedResponse:
		return "malformed_response"
	case KindCancelled:
		return "cancelled"
	case KindStateConflict:
		return "state_conflict"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrFatal             = errors.New("fatal error")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
	ErrCancelled         = errors.New("cancelled")
	ErrStateConflict     = errors.New("state conflict")
)

func sentinel(k Kind) error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindMalformedResponse:
		return ErrMalformedResponse
	case KindCancelled:
		return ErrCancelled
	case KindStateConflict:
		return ErrStateConflict
	default:
		return ErrFatal
	}
}

// Error wraps an error with its kind and the operation that produced it.
type Error struct {
	// Kind indicates how this error should be handled.
	Kind Kind

	// Op describes what was being attempted.
	Op string

	// Err is the underlying error. May be nil for pure state errors.
	Err error

	// Attempts is the number of attempts made, when retried.
	Attempts int
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (attempts: %d)", msg, e.Attempts)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

// New creates an error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Fatal wraps err as a fatal error.
func Fatal(op string, err error) *Error {
	return New(KindFatal, op, err)
}

// RateLimited wraps err as a rate limit error.
func RateLimited(op string, err error) *Error {
	return New(KindRateLimited, op, err)
}

// Malformed wraps err as a malformed response error.
func Malformed(op string, err error) *Error {
	return New(KindMalformedResponse, op, err)
}

// Cancelled creates a cancellation error.
func Cancelled(op string) *Error {
	return New(KindCancelled, op, nil)
}

// Conflict creates a state conflict error with a formatted message.
func Conflict(op, format string, args ...any) *Error {
	return New(KindStateConflict, op, fmt.Errorf(format, args...))
}

// rateLimitSignaler is implemented by client errors that know whether the
// remote side throttled them.
type rateLimitSignaler interface {
	IsRateLimited() bool
}

// KindOf determines how an error should be handled.
// The outermost *Error wins, so a retry that exhausted its attempts on a
// rate limit reports KindFatal.
func KindOf(err error) Kind {
	if err == nil {
		return KindFatal
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	var rl rateLimitSignaler
	if errors.As(err, &rl) && rl.IsRateLimited() {
		return KindRateLimited
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status == 429 || statusErr.Status == 529 {
			return KindRateLimited
		}
		return KindFatal
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return KindMalformedResponse
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	return KindFatal
}

// IsRateLimited reports whether the error should be retried with backoff.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsStateConflict reports whether the error is a lifecycle state conflict.
func IsStateConflict(err error) bool {
	return KindOf(err) == KindStateConflict
}

// IsCancelled reports whether the error is a cooperative cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

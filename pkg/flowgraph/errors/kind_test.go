package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type throttled struct{ limited bool }

func (t *throttled) Error() string       { return "throttled" }
func (t *throttled) IsRateLimited() bool { return t.limited }

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindFatal, "fatal"},
		{KindRateLimited, "rate_limited"},
		{KindMalformedResponse, "malformed_response"},
		{KindCancelled, "cancelled"},
		{KindStateConflict, "state_conflict"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind(%d).String() = %s, want %s", tt.kind, got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil error", nil, KindFatal},
		{"status 429", &StatusError{Service: "anthropic", Status: 429}, KindRateLimited},
		{"status 529", &StatusError{Service: "anthropic", Status: 529}, KindRateLimited},
		{"status 500", &StatusError{Service: "anthropic", Status: 500}, KindFatal},
		{"status 401", &StatusError{Service: "anthropic", Status: 401}, KindFatal},
		{"parse error", &ParseError{What: "evaluation", Reason: "unexpected token"}, KindMalformedResponse},
		{"validation error", &ValidationError{Message: "missing field"}, KindFatal},
		{"signaler limited", &throttled{limited: true}, KindRateLimited},
		{"signaler not limited", &throttled{limited: false}, KindFatal},
		{"wrapped signaler", fmt.Errorf("call: %w", &throttled{limited: true}), KindRateLimited},
		{"context canceled", context.Canceled, KindCancelled},
		{"conflict", Conflict("approve", "already %s", "approved"), KindStateConflict},
		{"unknown", errors.New("unknown"), KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.expected {
				t.Errorf("KindOf() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestKindOf_OutermostWins(t *testing.T) {
	inner := RateLimited("invoke", errors.New("429"))
	outer := Fatal("max retries exceeded", inner)

	if got := KindOf(outer); got != KindFatal {
		t.Errorf("KindOf(outer) = %s, want fatal", got)
	}
	if got := KindOf(inner); got != KindRateLimited {
		t.Errorf("KindOf(inner) = %s, want rate_limited", got)
	}
}

func TestError_Message(t *testing.T) {
	t.Run("op and cause", func(t *testing.T) {
		err := Conflict("approve", "request already %s", "approved")
		if got := err.Error(); got != "approve: request already approved" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("kind only", func(t *testing.T) {
		err := Cancelled("")
		if got := err.Error(); got != "cancelled" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("attempts", func(t *testing.T) {
		err := &Error{Kind: KindFatal, Op: "invoke", Err: errors.New("boom"), Attempts: 3}
		if got := err.Error(); got != "invoke: boom (attempts: 3)" {
			t.Errorf("Error() = %q", got)
		}
	})
}

func TestError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("resume: %w", Conflict("resume", "not parked"))

	if !errors.Is(err, ErrStateConflict) {
		t.Error("expected errors.Is(err, ErrStateConflict)")
	}
	if errors.Is(err, ErrCancelled) {
		t.Error("state conflict should not match ErrCancelled")
	}
	if !IsStateConflict(err) {
		t.Error("IsStateConflict should be true")
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("inner error")
	err := Fatal("op", inner)
	if !errors.Is(err, inner) {
		t.Error("Unwrap should return inner error")
	}
}

func TestHelpers(t *testing.T) {
	if !IsRateLimited(&StatusError{Service: "anthropic", Status: 429}) {
		t.Error("429 should be rate limited")
	}
	if IsRateLimited(errors.New("plain")) {
		t.Error("plain error should not be rate limited")
	}
	if !IsCancelled(Cancelled("step")) {
		t.Error("Cancelled() should be cancelled")
	}
}

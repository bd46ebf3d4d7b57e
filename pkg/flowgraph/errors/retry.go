package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig is an exponential backoff policy. Each wait is the previous
// one times BackoffFactor, capped at MaxBackoff, then spread by Jitter
// (0 to 1) in both directions.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64

	// RetryableFunc replaces the default check, IsRateLimited.
	RetryableFunc func(error) bool
	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// ThrottleRetry backs off in tens of seconds, for model providers that
// throttle per minute.
var ThrottleRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 30 * time.Second,
	MaxBackoff:     2 * time.Minute,
	BackoffFactor:  2.0,
	Jitter:         0.3,
}

// RetryResult is the outcome of WithRetryContext.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext runs fn until it succeeds, fails with an error the
// config does not retry, or runs out of attempts. Rate limit errors are
// retried by default. Running out of attempts yields a KindFatal error
// wrapping the last failure; a context that ends first yields
// KindCancelled.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	finish := func(v T, err error, attempts int) RetryResult[T] {
		return RetryResult[T]{Value: v, Err: err, Attempts: attempts, Duration: time.Since(start)}
	}
	cancelled := func(op string, attempts int) RetryResult[T] {
		var zero T
		return finish(zero, &Error{Kind: KindCancelled, Op: op, Err: ctx.Err(), Attempts: attempts}, attempts)
	}

	attempts := max(cfg.MaxAttempts, 1)
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRateLimited
	}

	backoff := cfg.InitialBackoff
	var lastErr error
	for n := 1; n <= attempts; n++ {
		if ctx.Err() != nil {
			return cancelled("retry", n-1)
		}

		v, err := fn(ctx)
		if err == nil || !retryable(err) {
			return finish(v, err, n)
		}
		lastErr = err
		if n == attempts {
			break
		}

		wait := calculateBackoff(backoff, cfg.Jitter)
		if cfg.OnRetry != nil {
			cfg.OnRetry(n, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return cancelled("retry backoff", n)
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	var zero T
	return finish(zero, &Error{Kind: KindFatal, Op: "max retries exceeded", Err: lastErr, Attempts: attempts}, attempts)
}

func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	spread := float64(base) * jitter * (rand.Float64()*2 - 1)
	return base + time.Duration(spread)
}

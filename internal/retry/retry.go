// Package retry wraps operations with exponential backoff and a pluggable
// retry predicate.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 500 * time.Millisecond
)

// ShouldRetryFunc decides whether err, observed on the given zero-based
// attempt, is worth retrying.
type ShouldRetryFunc func(err error, attempt int) bool

type options struct {
	shouldRetry ShouldRetryFunc
	maxAttempts int
	baseDelay   time.Duration
}

// Option configures a Do call.
type Option func(*options)

// WithShouldRetry sets the retry predicate. The default retries any error.
func WithShouldRetry(fn ShouldRetryFunc) Option {
	return func(o *options) { o.shouldRetry = fn }
}

// WithMaxAttempts caps the total number of attempts (first try included).
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first retry delay. Subsequent delays double, with
// jitter applied on top.
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.baseDelay = d
		}
	}
}

// Do invokes op until it succeeds, the predicate declines the error, the
// attempt ceiling is reached, or ctx is cancelled. The delay before attempt
// n+1 is baseDelay * 2^n plus random jitter. Cancellation is never retried,
// regardless of the predicate. The final error propagates unchanged.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	cfg := options{
		shouldRetry: func(error, int) bool { return true },
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, o := range opts {
		o(&cfg)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.25

	attempt := 0
	operation := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		cur := attempt
		attempt++
		if ctx.Err() != nil || !cfg.shouldRetry(err, cur) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.maxAttempts)),
	)
}

package resilience

import (
	"context"
	"time"
)

// RetryConfig bounds how often an operation is repeated and how long to wait
// between attempts.
type RetryConfig struct {
	// MaxRetries counts attempts after the first one.
	MaxRetries int
	Backoff    Backoff

	// ShouldRetry reports whether err is worth another attempt. When nil,
	// only transient errors are retried.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig allows three retries starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		Backoff:    Backoff{Initial: 100 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.1},
	}
}

func (c RetryConfig) retryable(err error) bool {
	if c.ShouldRetry != nil {
		return c.ShouldRetry(err)
	}
	return IsTransientError(err)
}

type RetryFunc func(ctx context.Context) error

// RetryCallback observes a failed attempt before the wait for the next one.
type RetryCallback func(attempt int, err error, nextDelay time.Duration)

// Retry runs fn until it succeeds, fails with a non-retryable error, runs out
// of retries or ctx ends. The error of the last attempt is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn RetryFunc) error {
	return RetryWithCallback(ctx, cfg, fn, nil)
}

// RetryWithCallback is Retry with a hook called before every wait.
func RetryWithCallback(ctx context.Context, cfg RetryConfig, fn RetryFunc, callback RetryCallback) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := fn(ctx)
		if err == nil || attempt > cfg.MaxRetries || !cfg.retryable(err) {
			return err
		}

		wait := cfg.Backoff.Delay(attempt)
		if callback != nil {
			callback(attempt, err, wait)
		}
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

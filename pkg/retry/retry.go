// Package retry runs an operation again with exponential backoff while its
// errors are classified as transient.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // 0 retries until the context ends
	InitialWait time.Duration // wait after the first failure
	MaxWait     time.Duration // cap on any single wait
	Multiplier  float64       // growth per attempt
	Jitter      float64       // +/- fraction applied to each wait

	// ShouldRetry classifies errors. When nil, only errors wrapped with
	// Retryable are retried.
	ShouldRetry func(error) bool
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig suits Drive listing calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// RetryAfterer is implemented by errors that carry a server wait hint, such
// as a rate limit response. The hint replaces a shorter backoff.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// RetryableError marks an error as transient.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so that IsRetryable reports true. nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// IsRetryable reports whether err was wrapped with Retryable.
func IsRetryable(err error) bool {
	var r RetryableError
	return errors.As(err, &r)
}

// Do runs fn until it succeeds, fails permanently or attempts run out.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions with a result. The last error is
// returned once attempts are exhausted; a cancelled context ends the loop
// with the context's error.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	for attempt := 1; ; attempt++ {
		r, err := fn()
		switch {
		case err == nil:
			return r, nil
		case !shouldRetry(err):
			return zero, err
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts:
			return zero, err
		}

		wait := cfg.wait(attempt, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// wait returns the pause after a failed attempt (1-based).
func (cfg Config) wait(attempt int, err error) time.Duration {
	d := float64(cfg.InitialWait)
	for i := 1; i < attempt; i++ {
		d *= cfg.Multiplier
		if cfg.MaxWait > 0 && d >= float64(cfg.MaxWait) {
			break
		}
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	var hint RetryAfterer
	if errors.As(err, &hint) && float64(hint.RetryAfter()) > d {
		d = float64(hint.RetryAfter())
	}
	if cfg.MaxWait > 0 && d > float64(cfg.MaxWait) {
		d = float64(cfg.MaxWait)
	}
	return time.Duration(d)
}

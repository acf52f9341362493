// Package retry runs an operation again after transient failures, waiting
// with exponential backoff and jitter between attempts.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior for transient failures.
type Config struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	// Timeout bounds each attempt separately. An attempt that runs out of
	// time is retried; the caller's own deadline is not.
	Timeout time.Duration
}

// Once is the policy for collaborator calls: one retry after a short wait.
func Once() Config {
	return Config{
		MaxAttempts: 2,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
	}
}

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (e *Permanent) Error() string { return e.Err.Error() }

func (e *Permanent) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a permanent error, or runs out of
// attempts. Once ctx itself is done nothing is retried. The wait function,
// when non-nil, may override the computed backoff for an error (for example
// to honour a Retry-After header); it returns 0 to keep the default.
func Do[T any](ctx context.Context, cfg Config, wait func(error) time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := range attempts {
		v, err := call(ctx, cfg.Timeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !Retryable(err) {
			return zero, err
		}

		// Last attempt, no point sleeping.
		if attempt == attempts-1 {
			break
		}

		d := Backoff(cfg, attempt)
		if wait != nil {
			if override := wait(err); override > 0 {
				d = override
			}
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(d):
		}
	}

	return zero, lastErr
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// Retryable reports whether err is worth another attempt. An expired
// per-attempt deadline is; cancellation and permanent errors are not.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var p *Permanent
	return !errors.As(err, &p)
}

// Backoff computes the wait before the attempt following the given one.
func Backoff(cfg Config, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 1
	}
	wait := float64(cfg.InitialWait) * math.Pow(mult, float64(attempt))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}

	// Add ±20% jitter.
	jitter := wait * 0.2 * (2*rand.Float64() - 1)
	wait += jitter

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

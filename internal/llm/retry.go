package llm

import (
	"context"
	"errors"
	"time"

	"github.com/pavelanni/viva/internal/retry"
)

// RetryProvider is a decorator that retries transient errors with
// exponential backoff and jitter.
type RetryProvider struct {
	inner  Provider
	config retry.Config
}

// WithRetry wraps a Provider with retry logic.
func WithRetry(p Provider, cfg retry.Config) Provider {
	return &RetryProvider{inner: p, config: cfg}
}

func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	invalidRetried := false
	return retry.Do(ctx, r.config, r.retryAfter, func(ctx context.Context) (*Response, error) {
		resp, err := r.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !shouldRetry(err, &invalidRetried) {
			return nil, &retry.Permanent{Err: err}
		}
		return nil, err
	})
}

func (r *RetryProvider) ModelID() string {
	return r.inner.ModelID()
}

// shouldRetry determines if a provider error is retryable.
func shouldRetry(err error, invalidRetried *bool) bool {
	// Max tokens is a configuration issue, not transient.
	var maxTok *ErrMaxTokensExceeded
	if errors.As(err, &maxTok) {
		return false
	}

	// Invalid response gets one retry.
	var invResp *ErrInvalidResponse
	if errors.As(err, &invResp) {
		if *invalidRetried {
			return false
		}
		*invalidRetried = true
		return true
	}

	// Rate limits, outages and network errors are transient.
	return true
}

// retryAfter honours a rate limit's Retry-After hint, capped at MaxWait.
func (r *RetryProvider) retryAfter(err error) time.Duration {
	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		return 0
	}
	if r.config.MaxWait > 0 {
		return min(rl.RetryAfter, r.config.MaxWait)
	}
	return rl.RetryAfter
}

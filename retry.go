package sambung

import (
	"context"
	"time"
)

// RetryStrategy re-invokes a failing operation up to MaxRetries times after
// the initial attempt. Waits between attempts honor context cancellation.
type RetryStrategy struct {
	config RetryConfig
}

// NewRetryStrategy creates a retry strategy, applying defaults for zero
// config fields.
func NewRetryStrategy(config RetryConfig) *RetryStrategy {
	defaults := DefaultRetryConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}

	return &RetryStrategy{config: config}
}

// Execute invokes op until it succeeds or attempts are exhausted, then
// returns the last error unmodified. Total invocations = 1 + MaxRetries. A
// context cancelled while waiting aborts with the context error.
func (r *RetryStrategy) Execute(ctx context.Context, op func(context.Context) (*CallResponse, error)) (*CallResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.Delay(attempt - 1)):
			}
		}

		resp, err := op(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Delay returns the wait after the attempt-th failure (zero-based): the fixed
// RetryDelay, or min(BaseDelay * 2^attempt, MaxDelay) with exponential
// backoff.
func (r *RetryStrategy) Delay(attempt int) time.Duration {
	if !r.config.ExponentialBackoff {
		return r.config.RetryDelay
	}

	delay := r.config.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= r.config.MaxDelay {
			return r.config.MaxDelay
		}
	}
	if delay > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return delay
}

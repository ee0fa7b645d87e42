package utils

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig defines the configuration for retry operations
type RetryConfig struct {
	// Attempts is the total number of tries including the first one (values below 1 mean 1)
	Attempts int
	// InitialBackoff is the wait before the second attempt
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts (0 means no cap)
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which backoff is multiplied after each retry
	BackoffMultiplier float64
	// Sleep waits for d or until ctx is done. Nil uses SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns the retry budget used for network hops:
// 3 attempts, 1s base, doubling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:          3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// SleepContext waits for d, returning ctx.Err() if ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn until it succeeds, returns an error rejected by retryable, or
// the attempt budget is spent. The last error is returned unchanged so callers
// can classify it.
func Retry[T any](ctx context.Context, config RetryConfig, retryable func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := config.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := config.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	multiplier := config.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := config.InitialBackoff

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= attempts || !retryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}

		zap.S().Debugw("Transient failure, retrying",
			"attempt", attempt,
			"maxAttempts", attempts,
			"backoff", backoff.String(),
			"error", err,
		)

		if sleepErr := sleep(ctx, backoff); sleepErr != nil {
			return zero, sleepErr
		}

		backoff = time.Duration(float64(backoff) * multiplier)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}
}

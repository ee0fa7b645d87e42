package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	assert.Equal(t, 3, config.Attempts)
	assert.Equal(t, time.Second, config.InitialBackoff)
	assert.Equal(t, 2.0, config.BackoffMultiplier)
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	sleeper := &recordingSleeper{}
	cfg := DefaultRetryConfig()
	cfg.Sleep = sleeper.Sleep

	calls := 0
	got, err := Retry(context.Background(), cfg, isTransient, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.waits)
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	sleeper := &recordingSleeper{}
	cfg := DefaultRetryConfig()
	cfg.Sleep = sleeper.Sleep

	calls := 0
	_, err := Retry(context.Background(), cfg, isTransient, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
}

func TestRetry_RecoversAfterTransientFailure(t *testing.T) {
	sleeper := &recordingSleeper{}
	cfg := DefaultRetryConfig()
	cfg.Sleep = sleeper.Sleep

	calls := 0
	got, err := Retry(context.Background(), cfg, isTransient, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	sleeper := &recordingSleeper{}
	cfg := DefaultRetryConfig()
	cfg.Sleep = sleeper.Sleep
	fatal := errors.New("fatal")

	calls := 0
	_, err := Retry(context.Background(), cfg, isTransient, func(context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.waits)
}

func TestRetry_MaxBackoffCaps(t *testing.T) {
	sleeper := &recordingSleeper{}
	cfg := RetryConfig{Attempts: 4, InitialBackoff: time.Second, MaxBackoff: 1500 * time.Millisecond, BackoffMultiplier: 2, Sleep: sleeper.Sleep}

	_, _ = Retry(context.Background(), cfg, isTransient, func(context.Context) (int, error) {
		return 0, errTransient
	})
	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond, 1500 * time.Millisecond}, sleeper.waits)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{Attempts: 3, InitialBackoff: time.Hour, BackoffMultiplier: 2}

	calls := 0
	_, err := Retry(ctx, cfg, isTransient, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errTransient
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}

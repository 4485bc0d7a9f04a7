package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Do(context.Background(), Immediate(3), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 1, calls)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	var attempts []int
	got, err := Do(context.Background(), Immediate(3), func(ctx context.Context, attempt int) (int, error) {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return 0, errors.New("boom")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, []int{1, 2, 3}, attempts)
}

func TestRetry_ExhaustedCarriesLastError(t *testing.T) {
	t.Parallel()

	lastErr := errors.New("attempt 3 failed")
	calls := 0
	_, err := Do(context.Background(), Immediate(3), func(ctx context.Context, attempt int) (struct{}, error) {
		calls++
		if attempt == 3 {
			return struct{}{}, lastErr
		}
		return struct{}{}, errors.New("earlier failure")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls, "must never run more than MaxAttempts")
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, lastErr)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	fatal := errors.New("bad request")
	calls := 0
	_, err := Do(context.Background(), Immediate(5), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", Permanent(fatal)
	})
	require.ErrorIs(t, err, fatal)
	require.NotErrorIs(t, err, ErrExhausted)
	require.Equal(t, 1, calls)
}

func TestRetry_OnRetryCalledBetweenAttempts(t *testing.T) {
	t.Parallel()

	var seen []int
	p := Exponential(3, time.Millisecond, 2*time.Millisecond)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	}
	_, err := Do(context.Background(), p, func(ctx context.Context, attempt int) (int, error) {
		return 0, errors.New("transient")
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, []int{1, 2}, seen)
}

func TestRetry_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Do(ctx, Exponential(5, 50*time.Millisecond, time.Second), func(ctx context.Context, attempt int) (int, error) {
		cancel()
		return 0, errors.New("transient")
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrExhausted)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), Policy{}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("nope")
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 1, calls)
}

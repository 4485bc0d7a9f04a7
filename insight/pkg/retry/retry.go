// Package retry runs an operation a bounded number of times with exponential backoff.
//
// It is shared by the agent loop, the SQL repair loop and the HTTP clients, so every
// bounded loop in the service reports exhaustion the same way.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is matched by errors.Is when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError carries the last error seen before the attempts ran out.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Policy bounds a retry loop. A zero InitialInterval retries immediately.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Immediate returns a policy that retries without delay.
func Immediate(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts}
}

// Exponential returns a policy with exponential backoff starting at initial.
func Exponential(maxAttempts int, initial, max time.Duration) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      2,
	}
}

// Permanent marks err as non-retryable. Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Func is one attempt. attempt starts at 1.
type Func[T any] func(ctx context.Context, attempt int) (T, error)

// Do runs fn until it succeeds, returns a permanent error, the context is done, or
// MaxAttempts is reached. On exhaustion the error is an *ExhaustedError.
func Do[T any](ctx context.Context, p Policy, fn Func[T]) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var (
		attempt   int
		lastErr   error
		permanent bool
	)
	op := func() (T, error) {
		attempt++
		res, err := fn(ctx, attempt)
		if err != nil {
			lastErr = err
			var perr *backoff.PermanentError
			if errors.As(err, &perr) {
				permanent = true
			}
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, d time.Duration) {
			p.OnRetry(attempt, err, d)
		}))
	}

	res, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		return res, nil
	}
	if permanent {
		return zero, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if lastErr != nil {
			return zero, fmt.Errorf("context done after %d attempts, last error: %w", attempt, lastErr)
		}
		return zero, ctxErr
	}
	return zero, &ExhaustedError{Attempts: attempt, Err: lastErr}
}

func (p Policy) backOff() backoff.BackOff {
	if p.InitialInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	return b
}

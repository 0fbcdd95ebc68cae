package workflow

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy bounds how an invocation is retried on transient failure.
// MaxAttempts counts every attempt including the first. MaxDelay caps a
// single wait; zero leaves only the overflow bound.
type RetryPolicy struct {
	Interval          time.Duration
	BackoffMultiplier float64
	MaxAttempts       int
	MaxDelay          time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:          2 * time.Second,
		BackoffMultiplier: 2,
		MaxAttempts:       3,
		MaxDelay:          5 * time.Minute,
	}
}

// Attempts returns the effective attempt budget.
func (p RetryPolicy) Attempts() int {
	return max(p.MaxAttempts, 1)
}

// Delay returns the wait before the given retry, where retry 1 follows the first attempt.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 || p.Interval <= 0 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	limit := time.Duration(math.MaxInt64)
	if p.MaxDelay > 0 {
		limit = p.MaxDelay
	}

	d := float64(p.Interval) * math.Pow(mult, float64(retry-1))
	if d >= float64(limit) {
		return limit
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, returns a non-transient error, or the
// attempt budget is spent. Only errors matching ErrTransientInvocation are
// retried. The last error is returned on exhaustion.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Retry is the value-returning form of RetryPolicy.Do.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts()

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrTransientInvocation) || attempt >= attempts {
			return zero, err
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

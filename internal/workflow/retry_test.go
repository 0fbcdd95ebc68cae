package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/JaimeStill/meridian/internal/workflow"
)

func fastPolicy(attempts int) workflow.RetryPolicy {
	return workflow.RetryPolicy{
		Interval:          time.Millisecond,
		BackoffMultiplier: 2,
		MaxAttempts:       attempts,
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		failures    int
		wantCalls   int
		wantErr     bool
	}{
		{"first attempt succeeds", 3, 0, 1, false},
		{"one transient then success", 3, 1, 2, false},
		{"succeeds on last attempt", 3, 2, 3, false},
		{"exhausted", 3, 3, 3, true},
		{"single attempt budget", 1, 1, 1, true},
		{"zero budget behaves as one", 0, 5, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := fastPolicy(tt.maxAttempts).Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return fmt.Errorf("%w: throttled", workflow.ErrTransientInvocation)
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls: got %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err: got %v, want error %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, workflow.ErrTransientInvocation) {
				t.Errorf("err: got %v, want transient", err)
			}
		})
	}
}

func TestRetryPermanentNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("%w: malformed input", workflow.ErrPermanentInvocation)
	})

	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
	if !errors.Is(err, workflow.ErrPermanentInvocation) {
		t.Errorf("err: got %v, want permanent", err)
	}
}

func TestRetryUnclassifiedNotRetried(t *testing.T) {
	calls := 0
	_ = fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestRetryStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := workflow.RetryPolicy{Interval: time.Hour, BackoffMultiplier: 1, MaxAttempts: 3}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(context.Context) error {
			calls++
			return workflow.ErrTransientInvocation
		})
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}

	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestRetryValue(t *testing.T) {
	calls := 0
	got, err := workflow.Retry(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", workflow.ErrTransientInvocation
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("value: got %q, want ok", got)
	}
}

func TestRetryDelay(t *testing.T) {
	p := workflow.RetryPolicy{Interval: time.Second, BackoffMultiplier: 2, MaxAttempts: 4}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.retry); got != tt.want {
			t.Errorf("delay(%d): got %v, want %v", tt.retry, got, tt.want)
		}
	}

	flat := workflow.RetryPolicy{Interval: time.Second, BackoffMultiplier: 0.5}
	if got := flat.Delay(3); got != time.Second {
		t.Errorf("multiplier below one: got %v, want 1s", got)
	}
}

func TestRetryDelayIsCapped(t *testing.T) {
	capped := workflow.RetryPolicy{Interval: time.Second, BackoffMultiplier: 2, MaxDelay: 10 * time.Second}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{3, 4 * time.Second},
		{5, 10 * time.Second},
		{40, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := capped.Delay(tt.retry); got != tt.want {
			t.Errorf("delay(%d): got %v, want %v", tt.retry, got, tt.want)
		}
	}

	defaults := workflow.DefaultRetryPolicy()
	for _, retry := range []int{34, 64, 2000} {
		if got := defaults.Delay(retry); got != defaults.MaxDelay {
			t.Errorf("default delay(%d): got %v, want %v", retry, got, defaults.MaxDelay)
		}
	}

	unbounded := workflow.RetryPolicy{Interval: 2 * time.Second, BackoffMultiplier: 2}
	if got := unbounded.Delay(64); got <= 0 {
		t.Errorf("uncapped delay(64): got %v, want positive", got)
	}
}

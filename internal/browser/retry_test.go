package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(), 0, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(), 0, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error %q does not report the attempt count", err)
	}
}

func TestWithRetryDepthCap(t *testing.T) {
	err := WithRetry(context.Background(), fastPolicy(), MaxRetryDepth, func(context.Context) error {
		t.Fatal("op ran despite exceeded depth")
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "retry depth") {
		t.Errorf("err = %v, want depth error", err)
	}
}

func TestWithRetryNestedDepthIsThreaded(t *testing.T) {
	// Each layer passes depth+1; the chain must stop at MaxRetryDepth
	// without any shared state between invocations.
	var run func(depth int) error
	layers := 0
	run = func(depth int) error {
		return WithRetry(context.Background(), RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond}, depth, func(ctx context.Context) error {
			layers++
			return run(depth + 1)
		})
	}
	err := run(0)
	if err == nil {
		t.Fatal("unbounded nesting not refused")
	}
	if layers != MaxRetryDepth {
		t.Errorf("ran %d layers, want %d", layers, MaxRetryDepth)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, RetryPolicy{Attempts: 5, BaseDelay: 10 * time.Millisecond}, 0, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times after cancel, want 1", calls)
	}
}


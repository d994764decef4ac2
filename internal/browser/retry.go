package browser

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultRetryAttempts is the per-operation attempt cap.
	DefaultRetryAttempts = 3
	// DefaultRetryBaseDelay is the backoff start; each attempt doubles it.
	DefaultRetryBaseDelay = 500 * time.Millisecond
	// MaxRetryDepth bounds nested retry invocations across call layers. The
	// depth counter is threaded through calls explicitly, never stored
	// globally, so parallel requests cannot contaminate each other.
	MaxRetryDepth = 3
)

// RetryPolicy tunes WithRetry. The zero value means defaults.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryBaseDelay
	}
	return p
}

// WithRetry runs op up to the policy's attempt count with exponential
// backoff. depth is the caller's nesting level: an op that itself retries
// must pass depth+1, and the chain is refused past MaxRetryDepth.
func WithRetry(ctx context.Context, policy RetryPolicy, depth int, op func(ctx context.Context) error) error {
	if depth >= MaxRetryDepth {
		return fmt.Errorf("retry depth %d exceeds maximum %d", depth, MaxRetryDepth)
	}
	policy = policy.normalized()

	var lastErr error
	delay := policy.BaseDelay
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("after %d attempts: %w", policy.Attempts, lastErr)
}

package browser

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit's position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	// DefaultBreakerThreshold is the consecutive-failure count that trips
	// the circuit.
	DefaultBreakerThreshold = 5
	// DefaultBreakerCooldown is how long the circuit stays open before a
	// recovery probe is allowed.
	DefaultBreakerCooldown = 30 * time.Second
)

// ErrCircuitOpen rejects operations while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open: browser operations suspended")

// Breaker is a closed/open/half-open circuit breaker around browser
// operations. It trips after a fixed failure count, rejects everything while
// open, probes one operation after the cooldown, and closes again on success.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker builds a breaker; non-positive arguments fall back to the
// defaults.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &Breaker{state: BreakerClosed, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// SetClock injects a clock for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// State returns the current circuit position, applying the cooldown
// transition from open to half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
	}
	return b.state
}

// Allow reports whether an operation may proceed, returning ErrCircuitOpen
// while the circuit is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stateLocked() == BreakerOpen {
		remaining := b.cooldown - b.now().Sub(b.openedAt)
		return fmt.Errorf("%w (retry in %s)", ErrCircuitOpen, remaining.Round(time.Second))
	}
	return nil
}

// Success records a successful operation: failures reset and the circuit
// closes.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = BreakerClosed
}

// Failure records a failed operation. In half-open state a single failure
// reopens the circuit; in closed state the threshold applies.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stateLocked() == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = b.now()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// Do runs op under the breaker: rejected while open, outcome recorded
// otherwise.
func (b *Breaker) Do(op func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := op(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

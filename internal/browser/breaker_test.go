package browser

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		b.Failure()
		if b.State() != BreakerClosed {
			t.Fatalf("breaker opened after %d failures", i+1)
		}
	}
	b.Failure()
	if b.State() != BreakerOpen {
		t.Fatal("breaker not open after 5 failures")
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)

	b.Failure()
	b.Failure()
	b.Success()
	for i := 0; i < 4; i++ {
		b.Failure()
	}
	if b.State() != BreakerClosed {
		t.Error("success did not reset the failure count")
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	b := NewBreaker(2, 30*time.Second)
	b.SetClock(func() time.Time { return current })

	b.Failure()
	b.Failure()
	if b.State() != BreakerOpen {
		t.Fatal("breaker not open")
	}

	current = base.Add(10 * time.Second)
	if err := b.Allow(); err == nil {
		t.Error("operation allowed during cooldown")
	}

	current = base.Add(31 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s after cooldown, want half_open", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("probe not allowed in half-open: %v", err)
	}

	// A half-open failure reopens immediately; a success closes.
	b.Failure()
	if b.State() != BreakerOpen {
		t.Error("half-open failure did not reopen the circuit")
	}
	current = current.Add(31 * time.Second)
	b.Success()
	if b.State() != BreakerClosed {
		t.Error("success did not close the circuit")
	}
}

func TestBreakerDo(t *testing.T) {
	b := NewBreaker(2, 30*time.Second)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Do returned %v, want boom", err)
		}
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker ran the operation: %v", err)
	}
}

package resilience

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("webhook", CircuitBreakerConfig{
		FailureThreshold: threshold,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}).WithClock(clock.now)
	return cb, clock
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open circuit ran fn (err %v)", err)
	}
	if s := cb.Stats(); s.TotalRejected != 1 || s.TotalFailures != 3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestCircuitHalfOpenTrial(t *testing.T) {
	cb, clock := newTestBreaker(1)
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	clock.t = clock.t.Add(2 * time.Minute)

	// A failed trial call reopens the circuit.
	_ = cb.Execute(func() error { return boom })
	if cb.State() != CircuitOpen {
		t.Fatalf("state after failed trial = %s", cb.State())
	}

	clock.t = clock.t.Add(2 * time.Minute)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state after successful trial = %s", cb.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2)
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return boom })
	if cb.State() != CircuitClosed {
		t.Errorf("non-consecutive failures opened the circuit")
	}
	if rate := cb.Stats().FailureRate(); rate < 66 || rate > 67 {
		t.Errorf("failure rate = %.2f", rate)
	}
}

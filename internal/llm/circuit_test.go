package llm

import (
	"testing"
	"time"
)

func newTestBreaker(failureThreshold int, window, openTimeout time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(failureThreshold, 2, window, openTimeout)
	now := time.Unix(1_700_000_000, 0)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitTripsAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %s before threshold, want CLOSED", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s after threshold, want OPEN", cb.State())
	}
	if err := cb.Check(); err == nil {
		t.Fatal("open breaker must reject calls")
	}
}

func TestCircuitIgnoresFailuresOutsideWindow(t *testing.T) {
	cb, now := newTestBreaker(3, time.Minute, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	*now = now.Add(2 * time.Minute)
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatalf("stale failures must not count, state = %s", cb.State())
	}
}

func TestCircuitHalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute, time.Minute)

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	*now = now.Add(61 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %s after open timeout, want HALF_OPEN", cb.State())
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %s after probe successes, want CLOSED", cb.State())
	}
}

func TestCircuitHalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute, time.Minute)

	cb.RecordFailure()
	*now = now.Add(61 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("probe failure must re-open, state = %s", cb.State())
	}
}

func TestCircuitFailureLogStaysBounded(t *testing.T) {
	// A breaker that never trips must still shed failure timestamps
	// older than the window instead of accumulating them forever.
	cb, now := newTestBreaker(1000, time.Minute, time.Minute)

	for i := 0; i < 500; i++ {
		cb.RecordFailure()
		*now = now.Add(time.Second)
	}
	cb.mu.Lock()
	kept := len(cb.failures)
	cb.mu.Unlock()
	if kept > 61 {
		t.Fatalf("failure log holds %d entries, want at most one window's worth", kept)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %s, want CLOSED", cb.State())
	}
}

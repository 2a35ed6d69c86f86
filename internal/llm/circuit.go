package llm

import (
	"sync"
	"time"

	"github.com/haoran/skuflow/internal/apperr"
)

// CircuitState is the breaker's three-state machine state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreaker trips OPEN after failureThreshold failures inside the
// sliding window, waits openTimeout, probes in HALF_OPEN, and closes
// again after successThreshold consecutive probe successes.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	window           time.Duration
	openTimeout      time.Duration

	state             CircuitState
	failures          []time.Time
	halfOpenSuccesses int
	openedAt          time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a breaker with the given limits.
// Parameters:
//   - failureThreshold: failures within the window that trip the breaker.
//   - successThreshold: half-open successes required to close.
//   - window: sliding failure window.
//   - openTimeout: time spent OPEN before probing.
// Returns:
//   - *CircuitBreaker: breaker in CLOSED state.
func NewCircuitBreaker(failureThreshold, successThreshold int, window, openTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if openTimeout <= 0 {
		openTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		window:           window,
		openTimeout:      openTimeout,
		state:            CircuitClosed,
		now:              time.Now,
	}
}

// State returns the current state, transitioning OPEN to HALF_OPEN once
// the open timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) > cb.openTimeout {
		cb.state = CircuitHalfOpen
		cb.halfOpenSuccesses = 0
	}
	return cb.state
}

// Check returns a circuit-open error when calls must not proceed.
func (cb *CircuitBreaker) Check() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.stateLocked() == CircuitOpen {
		remaining := cb.openTimeout - cb.now().Sub(cb.openedAt)
		return apperr.New(apperr.CodeLLMCircuitOpen, apperr.SeverityError,
			"circuit breaker open, retry in %.0fs", remaining.Seconds())
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.stateLocked() == CircuitHalfOpen {
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failures = cb.failures[:0]
		}
	}
}

// RecordFailure records a failed call, tripping the breaker when the
// window fills. Any failure during HALF_OPEN re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.failures = append(cb.failures, now)

	if cb.stateLocked() == CircuitHalfOpen {
		cb.trip(now)
		return
	}

	// Prune on every record so a long-lived CLOSED breaker with
	// sporadic failures holds only one window's worth of timestamps.
	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = kept

	if len(cb.failures) >= cb.failureThreshold {
		cb.trip(now)
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = CircuitOpen
	cb.openedAt = now
}

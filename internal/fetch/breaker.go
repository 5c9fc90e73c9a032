package fetch

import (
	"sync"
	"time"
)

// CBState is the state of a circuit breaker.
type CBState int

const (
	// CBClosed means the circuit is healthy; requests flow through.
	CBClosed CBState = iota
	// CBOpen means the circuit has tripped; requests are rejected.
	CBOpen
	// CBHalfOpen means the circuit is probing recovery; one request is allowed.
	CBHalfOpen
)

// String returns the state label persisted in monitor metadata.
func (s CBState) String() string {
	switch s {
	case CBOpen:
		return "OPEN"
	case CBHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// CircuitBreaker fences off a single URL after repeated failures:
// Closed → Open (after failureThreshold failures)
// Open → HalfOpen (after recoveryTimeout elapses, on the probing Allow call)
// HalfOpen → Closed on success, or back to Open on failure.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CBState
	failureThreshold int
	recoveryTimeout  time.Duration

	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker with the given parameters.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CBClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Allow reports whether a request should be permitted through the circuit.
// In the Open state it transitions to HalfOpen once the cooldown has
// elapsed and returns true exactly on that probing call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBClosed:
		return true
	case CBOpen:
		if time.Since(cb.lastFailure) > cb.recoveryTimeout {
			cb.state = CBHalfOpen
			return true
		}
		return false
	case CBHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != CBClosed {
		cb.state = CBClosed
	}
}

// RecordFailure counts a failure. In Closed state the circuit opens at the
// failure threshold; in HalfOpen state the probe failed and the circuit
// re-opens with a fresh cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case CBClosed:
		if cb.failures >= cb.failureThreshold {
			cb.state = CBOpen
		}
	case CBHalfOpen:
		cb.state = CBOpen
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerRegistry is a thread-safe table of per-URL circuit breakers,
// created lazily on first access.
type BreakerRegistry struct {
	mu sync.Mutex

	breakers         map[string]*CircuitBreaker
	failureThreshold int
	recoveryTimeout  time.Duration
}

// NewBreakerRegistry creates a registry with the given default parameters.
func NewBreakerRegistry(failureThreshold int, recoveryTimeout time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Get returns the breaker for the given key, creating one if necessary.
// Keys are normalized URLs.
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(r.failureThreshold, r.recoveryTimeout)
		r.breakers[key] = cb
	}
	return cb
}

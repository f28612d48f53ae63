package runner

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position
type BreakerState int

const (
	// StateClosed allows all calls through
	StateClosed BreakerState = iota
	// StateOpen fails calls fast without invoking the provider
	StateOpen
	// StateHalfOpen allows a single probe call through
	StateHalfOpen
)

// String implements fmt.Stringer
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerOpenError is returned when a call is rejected because the circuit
// is open. Callers use it to route to a fallback provider.
type BreakerOpenError struct {
	Name       string
	RetryAfter time.Duration
}

// Error implements error
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open, retry in %s", e.Name, e.RetryAfter.Round(time.Second))
}

const (
	// DefaultFailureThreshold consecutive failures open the circuit
	DefaultFailureThreshold = 3
	// DefaultCoolDown is how long the circuit stays open before probing
	DefaultCoolDown = 30 * time.Second
)

// CircuitBreaker guards a provider with the standard closed/open/half-open
// state machine. Safe for concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold int
	coolDown         time.Duration
	state            BreakerState
	failures         int
	lastFailure      time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a breaker with the given thresholds. Zero values
// select the defaults.
func NewCircuitBreaker(name string, failureThreshold int, coolDown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if coolDown <= 0 {
		coolDown = DefaultCoolDown
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. An open circuit transitions to
// half-open once the cool-down has elapsed, admitting a single probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		elapsed := cb.now().Sub(cb.lastFailure)
		if elapsed >= cb.coolDown {
			cb.state = StateHalfOpen
			return nil
		}
		return &BreakerOpenError{Name: cb.name, RetryAfter: cb.coolDown - elapsed}
	}
	return nil
}

// RecordSuccess closes the circuit and resets the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
}

// RecordFailure counts a failure. A half-open probe failure reopens the
// circuit immediately; in the closed state the circuit opens once the
// threshold of consecutive failures is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// BreakerRegistry hands out one breaker per provider name
type BreakerRegistry struct {
	mu               sync.Mutex
	breakers         map[string]*CircuitBreaker
	failureThreshold int
	coolDown         time.Duration
}

// NewBreakerRegistry creates a registry whose breakers share the given
// thresholds
func NewBreakerRegistry(failureThreshold int, coolDown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
	}
}

// Get returns the breaker for the named provider, creating it on first use
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, r.failureThreshold, r.coolDown)
		r.breakers[name] = cb
	}
	return cb
}

// States returns a snapshot of every breaker's state, keyed by name
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make(map[string]BreakerState, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.State()
	}
	return states
}

package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is refused because the breaker has
// tripped and its cooldown has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State int

const (
	// StateClosed lets calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen refuses calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a probe call after the cooldown.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker trips after consecutive failures against one backend so hot
// paths stop paying a connect timeout for an endpoint that is known to be
// down. The governor runs its Redis permit counter through one; the
// Anthropic client guards the Messages endpoint the same way. Once the
// cooldown elapses, a single probe decides whether the backend recovered.
type CircuitBreaker struct {
	name     string
	trip     int
	cooldown time.Duration

	mu        sync.Mutex
	state     State
	failures  int
	trippedAt time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the consecutive-failure count that trips the breaker.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.trip = n }
}

// WithResetTimeout sets the cooldown before a recovery probe is admitted.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// NewCircuitBreaker creates a breaker named after the backend it guards.
// Defaults: trip after 3 consecutive failures, probe after 15 seconds.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:     name,
		trip:     3,
		cooldown: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the backend name the breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the breaker position, folding cooldown expiry into half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.position()
}

// position must be called with the lock held.
func (cb *CircuitBreaker) position() State {
	if cb.state == StateOpen && time.Since(cb.trippedAt) > cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Allow reports whether a call should be attempted. Half-open counts as
// allowed; the caller's next RecordSuccess or RecordFailure settles the state.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.position() != StateOpen
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
}

// RecordFailure counts a failure, tripping the breaker at the threshold.
// A failed half-open probe re-trips immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.trip || cb.position() == StateHalfOpen {
		cb.state = StateOpen
		cb.trippedAt = time.Now()
	}
}

// Execute runs fn through the breaker, returning ErrCircuitOpen without
// calling it when the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

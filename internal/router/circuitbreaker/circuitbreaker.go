// Package circuitbreaker tracks the health of each provider's trust
// resolver so that a verifier known to be down is not called on every
// confirmation request.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of a provider's circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

const (
	defaultFailureThreshold         = 3
	defaultResetTimeout             = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 1
)

// Config holds circuit breaker settings. Zero values fall back to defaults.
type Config struct {
	FailureThreshold         int           // Consecutive failures that open the circuit
	ResetTimeout             time.Duration // Time spent Open before a probe is allowed
	HalfOpenSuccessThreshold int           // Successful probes needed to close again
}

type providerState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

// CircuitBreaker is an in-memory, per-provider breaker.
type CircuitBreaker struct {
	mu        sync.Mutex
	providers map[string]*providerState
	cfg       Config
	now       func() time.Time
}

// NewCircuitBreaker creates a breaker with cfg, filling in defaults.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenSuccessThreshold <= 0 {
		cfg.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	return &CircuitBreaker{
		providers: make(map[string]*providerState),
		cfg:       cfg,
		now:       time.Now,
	}
}

// getProviderState must be called with mu held.
func (cb *CircuitBreaker) getProviderState(provider string) *providerState {
	ps, ok := cb.providers[provider]
	if !ok {
		ps = &providerState{state: StateClosed}
		cb.providers[provider] = ps
	}
	return ps
}

// AllowRequest reports whether the provider may be called. An Open circuit
// whose reset timeout has passed moves to HalfOpen and lets the probe through.
func (cb *CircuitBreaker) AllowRequest(provider string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ps := cb.getProviderState(provider)
	switch ps.state {
	case StateOpen:
		if cb.now().Before(ps.openUntil) {
			return false
		}
		ps.state = StateHalfOpen
		ps.consecutiveFailures = 0
		ps.consecutiveSuccesses = 0
		return true
	default:
		return true
	}
}

// RecordFailure records a failed call to the provider.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ps := cb.getProviderState(provider)
	switch ps.state {
	case StateClosed:
		ps.consecutiveFailures++
		if ps.consecutiveFailures >= cb.cfg.FailureThreshold {
			ps.state = StateOpen
			ps.openUntil = cb.now().Add(cb.cfg.ResetTimeout)
		}
	case StateHalfOpen:
		// A failed probe re-opens for a full timeout.
		ps.state = StateOpen
		ps.consecutiveFailures = cb.cfg.FailureThreshold
		ps.consecutiveSuccesses = 0
		ps.openUntil = cb.now().Add(cb.cfg.ResetTimeout)
	case StateOpen:
	}
}

// RecordSuccess records a call that got an answer from the provider.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ps := cb.getProviderState(provider)
	switch ps.state {
	case StateClosed:
		ps.consecutiveFailures = 0
	case StateHalfOpen:
		ps.consecutiveSuccesses++
		if ps.consecutiveSuccesses >= cb.cfg.HalfOpenSuccessThreshold {
			ps.state = StateClosed
			ps.consecutiveFailures = 0
			ps.consecutiveSuccesses = 0
		}
	case StateOpen:
	}
}

// GetProviderStatus returns the circuit state and consecutive failure count.
// It never moves an Open circuit to HalfOpen.
func (cb *CircuitBreaker) GetProviderStatus(provider string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ps, ok := cb.providers[provider]
	if !ok {
		return StateClosed, 0
	}
	return ps.state, ps.consecutiveFailures
}

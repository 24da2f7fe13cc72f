package instance

import (
	"sync"
	"time"

	"github.com/agentmesh/orchestrator/config"
)

// BreakerState is one of the three circuit breaker states (spec.md §3/§4.G).
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "halfOpen"
)

// CircuitBreaker is a per-instance failure tracker. The zero value is not
// usable; construct with NewCircuitBreaker.
type CircuitBreaker struct {
	cfg config.CircuitBreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	successCount  int
	lastFailureAt time.Time
	halfOpenInUse bool
}

// NewCircuitBreaker constructs a closed breaker with the given thresholds.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

// AllowRequest reports whether a request may be dispatched to the guarded
// instance right now, transitioning open→halfOpen once openTimeout elapses
// and reserving the single half-open trial slot (spec.md §4.G).
func (b *CircuitBreaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.lastFailureAt) < b.cfg.OpenTimeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.halfOpenInUse = true
		return true
	case BreakerHalfOpen:
		if b.halfOpenInUse {
			return false
		}
		b.halfOpenInUse = true
		return true
	default:
		return false
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnSuccess records a successful call.
func (b *CircuitBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerHalfOpen:
		b.successCount++
		b.halfOpenInUse = false
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failureCount = 0
			b.successCount = 0
		}
	case BreakerClosed:
		b.failureCount = 0
	}
}

// OnFailure records a failed call, tripping the breaker open once
// failureThreshold consecutive failures accumulate, and reopening
// immediately on any half-open failure.
func (b *CircuitBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureAt = time.Now()
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.halfOpenInUse = false
		b.successCount = 0
		b.failureCount = b.cfg.FailureThreshold
	case BreakerClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
		}
	}
}

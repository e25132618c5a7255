package failsafe

import (
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// State is one of the three circuit-breaker states.
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
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker. A disabled breaker is a
// pass-through: CanProceed always returns true, RecordSuccess/RecordFailure
// are no-ops.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		SuccessThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker is a per-backend three-state breaker: Closed accepts all
// traffic, Open fast-fails until the reset timeout elapses, HalfOpen probes
// a limited number of calls to decide whether to close again.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	mu     sync.Mutex
	state  State
	fails  int
	succs  int
	openAt time.Time
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{name: name, cfg: cfg, state: StateClosed}
}

// CanProceed reports whether a call should be attempted right now. In Open
// state it transitions to HalfOpen exactly once the reset timeout has
// elapsed, and the caller that observes that transition is the probe.
func (b *CircuitBreaker) CanProceed() bool {
	if !b.cfg.Enabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.openAt) >= b.cfg.ResetTimeout {
			b.transitionLocked(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *CircuitBreaker) RecordSuccess() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.fails = 0
	case StateHalfOpen:
		b.succs++
		if b.succs >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

func (b *CircuitBreaker) RecordFailure() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.fails++
		if b.fails >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	}
}

// transitionLocked must be called with b.mu held.
func (b *CircuitBreaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	switch to {
	case StateOpen:
		b.openAt = time.Now()
		b.succs = 0
	case StateHalfOpen:
		b.succs = 0
	case StateClosed:
		b.fails = 0
		b.succs = 0
	}
	if from != to {
		logging.Info("failsafe.breaker", "backend %s: %s -> %s", b.name, from, to)
	}
}

// State returns the current state, for status reporting.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// StatusMessage renders a human-readable status including, for Open, the
// wall-clock time remaining before a probe is allowed.
func (b *CircuitBreaker) StatusMessage() string {
	b.mu.Lock()
	state, fails, openAt := b.state, b.fails, b.openAt
	b.mu.Unlock()

	if state != StateOpen {
		return fmt.Sprintf("backend %s circuit breaker %s (failures=%d)", b.name, state, fails)
	}
	remaining := b.cfg.ResetTimeout - time.Since(openAt)
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("backend %s circuit breaker open, retry in %s", b.name, remaining.Round(time.Millisecond))
}

// UnavailableError builds the KindUnavailable error surfaced when
// CanProceed returns false.
func (b *CircuitBreaker) UnavailableError() error {
	return gwerr.New(gwerr.KindUnavailable, b.StatusMessage())
}

package arbiter

import (
	"sync"
	"time"

	"github.com/vigil-labs/vigil-gate/internal/config"
)

// CircuitState represents the state of a branch circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // healthy, calls flow
	StateOpen                         // unhealthy, branch treated as unavailable
	StateHalfOpen                     // probing, one call allowed
)

func (s CircuitState) String() string {
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

// minRateSample is the smallest number of calls in the rolling window
// before the error-rate trip is considered. Below it a couple of failed
// calls against a mostly idle branch would read as a 100% error rate.
const minRateSample = 10

// CircuitBreaker guards one external branch. An open circuit makes the
// branch unavailable immediately instead of burning the branch deadline on
// a dead service for every request. It trips on either of two signals:
// a run of consecutive failures, or the failure share of a rolling window
// crossing the configured error rate.
type CircuitBreaker struct {
	mu sync.Mutex

	state       CircuitState
	consecutive int
	openedAt    time.Time

	windowStart    time.Time
	windowCalls    int
	windowFailures int

	cfg config.CircuitBreakerConfig
}

func NewCircuitBreaker(cfg config.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		state: StateClosed,
		cfg:   cfg,
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState transitions OPEN to HALF_OPEN once the probe interval has
// elapsed. Must be called with mu held.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.RecoveryProbeInterval {
		cb.state = StateHalfOpen
	}
	return cb.state
}

// Allow reports whether a call should go out.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState() != StateOpen
}

// RecordSuccess closes a probing circuit and ends any consecutive-failure
// run. The rolling window keeps counting so the error rate reflects mixed
// outcomes, not only streaks.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.observe(false)
	cb.consecutive = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.resetWindow()
	}
}

// RecordFailure counts a failed call and trips the circuit when either
// signal fires. A failed probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.observe(true)
	cb.consecutive++

	switch cb.state {
	case StateClosed:
		if cb.tripped() {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.resetWindow()
}

// observe rolls the rate window forward and counts one call outcome.
// Must be called with mu held.
func (cb *CircuitBreaker) observe(failed bool) {
	if cb.cfg.ErrorRateWindow > 0 && time.Since(cb.windowStart) >= cb.cfg.ErrorRateWindow {
		cb.resetWindow()
	}
	if cb.windowCalls == 0 {
		cb.windowStart = time.Now()
	}
	cb.windowCalls++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = time.Now()
	cb.windowCalls = 0
	cb.windowFailures = 0
}

// tripped reports whether either trip condition holds. Must be called
// with mu held.
func (cb *CircuitBreaker) tripped() bool {
	if cb.cfg.FailureThreshold > 0 && cb.consecutive >= cb.cfg.FailureThreshold {
		return true
	}
	if cb.cfg.ErrorRateThreshold > 0 && cb.windowCalls >= minRateSample {
		rate := float64(cb.windowFailures) / float64(cb.windowCalls)
		if rate >= cb.cfg.ErrorRateThreshold {
			return true
		}
	}
	return false
}

package recovery

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Default circuit breaker configuration
const (
	// DefaultFailureThreshold is the consecutive failure count that opens the breaker
	DefaultFailureThreshold = 5
	// DefaultRecoveryTimeout is how long the breaker stays open before a half-open probe
	DefaultRecoveryTimeout = 60 * time.Second
)

// ErrBreakerOpen is returned when a call is rejected without invoking the
// guarded operation.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards a repeatedly-failing dependency. State is shared per
// dependency name across all sessions, so all transitions happen under the
// mutex.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	recoveryTimeout  time.Duration
	failureCount     int
	lastFailureTime  time.Time
	state            BreakerState
	now              func() time.Time
}

// NewCircuitBreaker creates a closed breaker with the given threshold and
// recovery timeout. Zero values fall back to the defaults.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// Do executes op through the breaker. When open and the recovery timeout has
// not elapsed, the call fails fast with ErrBreakerOpen without invoking op.
// A half-open probe that succeeds closes the breaker and resets the failure
// count; a probe that fails reopens it.
func (cb *CircuitBreaker) Do(op func() error) error {
	cb.mu.Lock()
	if cb.state == BreakerOpen {
		if cb.now().Sub(cb.lastFailureTime) > cb.recoveryTimeout {
			cb.state = BreakerHalfOpen
		} else {
			cb.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	cb.mu.Unlock()

	err := op()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		if cb.state == BreakerHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.state = BreakerOpen
		}
		return err
	}
	cb.failureCount = 0
	cb.state = BreakerClosed
	return nil
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// Status reports the breaker state for health reporting.
func (cb *CircuitBreaker) Status() map[string]any {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	status := map[string]any{
		"state":             string(cb.state),
		"failure_count":     cb.failureCount,
		"failure_threshold": cb.failureThreshold,
		"recovery_timeout":  cb.recoveryTimeout.String(),
	}
	if !cb.lastFailureTime.IsZero() {
		status["last_failure"] = cb.lastFailureTime.Format(time.RFC3339)
	}
	return status
}

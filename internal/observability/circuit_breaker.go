// Package observability provides the circuit breaker guarding external
// dependencies.
package observability

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and the
// reset timeout has not elapsed; the guarded operation is not invoked.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed indicates the circuit is closed and operations are allowed.
	StateClosed CircuitBreakerState = iota
	// StateOpen indicates the circuit is open and operations are blocked for a timeout period.
	StateOpen
	// StateHalfOpen indicates a trial state where operations are allowed to probe recovery.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the circuit breaker pattern with consecutive
// failure/success counting. Instances are constructed and injected, never
// package-level singletons, so tests stay isolated.
type CircuitBreaker struct {
	mu sync.Mutex

	name              string
	failureThreshold  int
	resetTimeout      time.Duration
	successesRequired int

	state            CircuitBreakerState
	failureCount     int
	halfOpenSuccess  int
	lastFailureTime  time.Time
	now              func() time.Time

	// Counters since construction.
	totalRequests int64
	totalFailures int64
	stateChanges  int64
}

// NewCircuitBreaker creates a named circuit breaker.
func NewCircuitBreaker(name string, failureThreshold int, resetTimeout time.Duration, successesRequired int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successesRequired <= 0 {
		successesRequired = 3
	}
	return &CircuitBreaker{
		name:              name,
		failureThreshold:  failureThreshold,
		resetTimeout:      resetTimeout,
		successesRequired: successesRequired,
		state:             StateClosed,
		now:               time.Now,
	}
}

// Execute runs op under the breaker. When open and the reset timeout has not
// elapsed it fails fast with ErrCircuitOpen; otherwise the op runs and its
// outcome is recorded. The op's own error is returned unchanged on failure.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if !cb.allow() {
		RecordBreakerShortCircuit(cb.name)
		return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
	}
	err := op()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// allow reports whether a call may proceed, transitioning open→half-open
// when the reset timeout has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenSuccess = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.successesRequired {
			cb.transition(StateClosed)
			cb.failureCount = 0
			cb.halfOpenSuccess = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// Any failure while probing reopens the circuit.
		cb.transition(StateOpen)
		cb.halfOpenSuccess = 0
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.stateChanges++
	RecordBreakerState(cb.name, to.String())

	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened",
			slog.String("breaker", cb.name),
			slog.String("from", from.String()),
			slog.Int("consecutive_failures", cb.failureCount))
	default:
		slog.Info("circuit breaker state change",
			slog.String("breaker", cb.name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a point-in-time view for logging and admin endpoints.
type Snapshot struct {
	Name             string
	State            string
	ConsecutiveFails int
	LastFailureTime  time.Time
	TotalRequests    int64
	TotalFailures    int64
	StateChanges     int64
}

// GetSnapshot returns the current breaker statistics.
func (cb *CircuitBreaker) GetSnapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:             cb.name,
		State:            cb.state.String(),
		ConsecutiveFails: cb.failureCount,
		LastFailureTime:  cb.lastFailureTime,
		TotalRequests:    cb.totalRequests,
		TotalFailures:    cb.totalFailures,
		StateChanges:     cb.stateChanges,
	}
}

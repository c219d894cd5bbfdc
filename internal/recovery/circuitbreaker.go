package recovery

import (
	"sync"
	"time"

	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
)

// CircuitState is one of the three circuit breaker states of spec.md
// §4.7.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker guards calls to a single named downstream target.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	mu              sync.Mutex
	state           CircuitState
	consecFailures  int
	consecSuccesses int
	openedAt        time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker starting CLOSED.
func NewCircuitBreaker(failureThreshold, successThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            CircuitClosed,
	}
}

// Allow reports whether a call may proceed, transitioning OPEN -> HALF_OPEN
// once the recovery window has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(b.openedAt) >= b.recoveryTimeout {
			b.state = CircuitHalfOpen
			b.consecSuccesses = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess reports a successful call, closing the circuit after
// successThreshold consecutive successes while HALF_OPEN.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitHalfOpen:
		b.consecSuccesses++
		if b.consecSuccesses >= b.successThreshold {
			b.state = CircuitClosed
			b.consecFailures = 0
			b.consecSuccesses = 0
		}
	case CircuitClosed:
		b.consecFailures = 0
	}
}

// RecordFailure reports a failed call. CLOSED opens after
// failureThreshold consecutive failures; any failure while HALF_OPEN
// reopens immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitHalfOpen:
		b.state = CircuitOpen
		b.openedAt = time.Now()
		b.consecSuccesses = 0
	case CircuitClosed:
		b.consecFailures++
		if b.consecFailures >= b.failureThreshold {
			b.state = CircuitOpen
			b.openedAt = time.Now()
		}
	}
}

// State returns the current circuit state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs op if the circuit allows it, recording the outcome. Returns a
// circuit-open error without invoking op when the breaker is OPEN.
func (b *CircuitBreaker) Call(op func() error) error {
	if !b.Allow() {
		return errkind.New(errkind.KindCircuitOpen, "circuit open")
	}
	err := op()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Registry is a keyed set of circuit breakers, one per named downstream
// target, each independent per spec.md §5.
type Registry struct {
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry constructs a Registry that lazily creates a CircuitBreaker
// with the given thresholds for every new name it sees.
func NewRegistry(failureThreshold, successThreshold int, recoveryTimeout time.Duration) *Registry {
	return &Registry{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		breakers:         make(map[string]*CircuitBreaker),
	}
}

// For returns the CircuitBreaker for name, creating it on first use.
func (r *Registry) For(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewCircuitBreaker(r.failureThreshold, r.successThreshold, r.recoveryTimeout)
		r.breakers[name] = b
	}
	return b
}

package httpx

import (
	"sync"
	"time"
)

// CircuitState is the state of one host's circuit.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// CircuitBreaker fails fast for a host after FailureThreshold consecutive
// transient failures, and lets a single probe through once RecoveryTimeout
// has passed.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	circuits  map[string]*circuit
}

type circuit struct {
	state       CircuitState
	consecutive int
	changed     time.Time
	probing     bool
}

// NewCircuitBreaker creates a breaker. Non-positive values take the defaults.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		threshold: threshold,
		recovery:  recovery,
		circuits:  make(map[string]*circuit),
	}
}

// Allow returns ErrCircuitOpen when requests to host should fail fast.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	switch c.state {
	case CircuitOpen:
		if time.Since(c.changed) < cb.recovery {
			return ErrCircuitOpen
		}
		c.state = CircuitHalfOpen
		c.changed = time.Now()
		c.probing = true
		return nil
	case CircuitHalfOpen:
		if c.probing {
			return ErrCircuitOpen
		}
		c.probing = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the host's circuit.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	if c.state != CircuitClosed {
		c.changed = time.Now()
	}
	c.state = CircuitClosed
	c.consecutive = 0
	c.probing = false
}

// RecordFailure counts a transient failure for host.
func (cb *CircuitBreaker) RecordFailure(host string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	c.consecutive++
	switch c.state {
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.changed = time.Now()
		c.probing = false
	case CircuitClosed:
		if c.consecutive >= cb.threshold {
			c.state = CircuitOpen
			c.changed = time.Now()
		}
	}
}

// State returns the host's current state.
func (cb *CircuitBreaker) State(host string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[host]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && time.Since(c.changed) >= cb.recovery {
		return CircuitHalfOpen
	}
	return c.state
}

func (cb *CircuitBreaker) get(host string) *circuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &circuit{state: CircuitClosed}
		cb.circuits[host] = c
	}
	return c
}

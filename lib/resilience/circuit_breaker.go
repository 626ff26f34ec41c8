// Package resilience guards Redis connection attempts with a circuit breaker.
//
// When the server keeps refusing connections, the breaker opens and further
// attempts fail immediately with ErrCircuitOpen instead of each waiting out
// a dial timeout. After Timeout a limited number of probe attempts are let
// through; enough successes close the circuit again.
//
//	Closed -> Open -> HalfOpen -> Closed
//	           ^         |
//	           +---------+ (probe failed)
package resilience

import (
	"context"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets every attempt through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects attempts until Timeout has passed.
	CircuitOpen
	// CircuitHalfOpen lets a few probe attempts through.
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

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failed attempts that
	// open the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of successful probes that close it.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// MaxHalfOpenRequests caps concurrent probes.
	MaxHalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns defaults suited to connection setup.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    1,
		Timeout:             10 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxHalfOpenRequests <= 0 {
		c.MaxHalfOpenRequests = d.MaxHalfOpenRequests
	}
	return c
}

// CircuitBreaker tracks the outcome of connection attempts.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig
	name   string

	state     CircuitState
	failures  int
	successes int
	probes    int

	lastFailure time.Time
	lastChange  time.Time
	openedAt    time.Time

	onStateChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a closed circuit breaker. Zero config fields
// take their defaults.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config:     cfg.withDefaults(),
		name:       name,
		state:      CircuitClosed,
		lastChange: time.Now(),
	}
}

// SetStateChangeCallback registers fn to run on every transition. It runs
// on its own goroutine.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// State returns the current state. An open circuit whose timeout has
// passed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentLocked()
}

func (cb *CircuitBreaker) currentLocked() CircuitState {
	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.config.Timeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Allow reports whether an attempt may proceed. A true result must be
// followed by RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.config.Timeout {
			return false
		}
		cb.transitionLocked(CircuitHalfOpen)
		cb.probes = 1
		return true
	case CircuitHalfOpen:
		if cb.probes < cb.config.MaxHalfOpenRequests {
			cb.probes++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful attempt.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.probes > 0 {
			cb.probes--
		}
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionLocked(CircuitClosed)
		}
	case CircuitOpen:
		log.WithField("circuit", cb.name).Warn("success recorded while circuit open")
	}
}

// RecordFailure records a failed attempt.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionLocked(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionLocked(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.lastChange = time.Now()

	switch to {
	case CircuitClosed:
		cb.failures = 0
		cb.successes = 0
		cb.probes = 0
	case CircuitOpen:
		cb.openedAt = cb.lastChange
		cb.successes = 0
		cb.probes = 0
	case CircuitHalfOpen:
		cb.successes = 0
		cb.probes = 0
	}

	log.WithField("circuit", cb.name).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Info("circuit breaker state transition")

	if cb.onStateChange != nil {
		go cb.onStateChange(from, to)
	}
}

// ExecuteWithContext runs fn if the circuit allows it and records the
// outcome. It returns ErrCircuitOpen without calling fn when rejected.
// A failure caused by ctx ending is not held against the server.
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	if err := fn(ctx); err != nil {
		if ctx.Err() != nil {
			cb.releaseProbe()
			return err
		}
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// releaseProbe returns a half-open slot taken by an attempt that was
// abandoned rather than failed.
func (cb *CircuitBreaker) releaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	cb.openedAt = time.Time{}
	cb.lastChange = time.Now()
}

// Name returns the name of this circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CircuitBreakerStats is a snapshot of a circuit breaker.
type CircuitBreakerStats struct {
	Name            string
	State           CircuitState
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
	LastStateChange time.Time
	Config          CircuitBreakerConfig
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.currentLocked(),
		FailureCount:    cb.failures,
		SuccessCount:    cb.successes,
		LastFailureTime: cb.lastFailure,
		LastStateChange: cb.lastChange,
		Config:          cb.config,
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	// BreakerClosed passes calls through normally.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen rejects calls without invoking the wrapped operation.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen probes whether the downstream has recovered.
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Name identifies the breaker in logs and error context.
	Name string

	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the consecutive-success count in half-open that
	// closes the circuit again.
	SuccessThreshold int

	// CoolDown is how long an open circuit waits before allowing a probe.
	CoolDown time.Duration
}

// CircuitBreaker stops hammering a failing provider. A run of failures opens
// the circuit; after CoolDown a single probe is let through, and enough probe
// successes close it again.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker creates a breaker, filling zero config fields with
// defaults (5 failures, 2 successes, 30s cool-down).
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.CoolDown == 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "breaker"
	}
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

// Call runs fn if the circuit allows it and records the outcome.
// An open circuit returns a recoverable CodeProvider error immediately.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		if time.Since(cb.openedAt) <= cb.cfg.CoolDown {
			return errors.New(errors.CodeProvider, "circuit breaker open", nil).
				WithContext("breaker", cb.cfg.Name).
				WithRecoverable(true)
		}
		cb.state = BreakerHalfOpen
		cb.failures = 0
		cb.successes = 0
	}

	err := fn()
	if err != nil {
		cb.failures++
		cb.openedAt = time.Now()
		if cb.state == BreakerHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.state = BreakerOpen
			cb.failures = 0
			cb.successes = 0
		}
		return err
	}

	switch cb.state {
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
		}
	case BreakerClosed:
		cb.failures = 0
	}
	return nil
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.successes = 0
}

// Trip forces the breaker open.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerOpen
	cb.openedAt = time.Now()
}

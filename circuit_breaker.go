// circuit_breaker.go: Circuit breaker guarding calls to remote problems
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// CircuitBreakerState represents the current operational state of a circuit breaker.
//
// State behaviors:
//   - StateClosed: calls pass through
//   - StateOpen: calls fail fast until RecoveryTimeout elapsed
//   - StateHalfOpen: up to SuccessThreshold probe calls are let through
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
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

// CircuitBreakerConfig contains circuit breaker settings for remote problems.
//
// State transitions:
//   - Closed → Open: FailureThreshold consecutive transport failures
//   - Open → Half-Open: after RecoveryTimeout
//   - Half-Open → Closed: SuccessThreshold successes
//   - Half-Open → Open: any failure
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
}

// DefaultCircuitBreakerConfig trips after 5 failures and probes after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker protects a remote endpoint. Only transport failures should
// be recorded as failures: a problem that rejects a point is healthy.
//
// Usage example:
//
//	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
//	err := cb.Execute(endpoint, func() error {
//	    return conn.Invoke(ctx, method, req, resp)
//	})
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state           atomic.Int32 // CircuitBreakerState
	failureCount    atomic.Int64
	successCount    atomic.Int64
	probeCount      atomic.Int64
	rejectedCount   atomic.Int64
	lastFailureTime atomic.Int64 // Unix nanoseconds

	// Serializes state transitions
	mu sync.Mutex
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{config: config}
	cb.state.Store(int32(StateClosed))
	return cb
}

// AllowRequest reports whether a call may proceed. It may move an open
// breaker to half-open once the recovery timeout has elapsed.
func (cb *CircuitBreaker) AllowRequest() bool {
	if !cb.config.Enabled {
		return true
	}

	switch CircuitBreakerState(cb.state.Load()) {
	case StateClosed:
		return true

	case StateOpen:
		if !cb.shouldAttemptRecovery() {
			cb.rejectedCount.Add(1)
			return false
		}
		cb.mu.Lock()
		// Double-check state after acquiring lock
		if CircuitBreakerState(cb.state.Load()) == StateOpen && cb.shouldAttemptRecovery() {
			cb.state.Store(int32(StateHalfOpen))
			cb.resetCounters()
		}
		cb.mu.Unlock()
		return cb.admitProbe()

	case StateHalfOpen:
		return cb.admitProbe()

	default:
		return false
	}
}

func (cb *CircuitBreaker) admitProbe() bool {
	if CircuitBreakerState(cb.state.Load()) != StateHalfOpen {
		return CircuitBreakerState(cb.state.Load()) == StateClosed
	}
	if cb.probeCount.Add(1) > int64(cb.config.SuccessThreshold) {
		cb.rejectedCount.Add(1)
		return false
	}
	return true
}

// RecordSuccess records a completed call.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.successCount.Add(1)

	switch CircuitBreakerState(cb.state.Load()) {
	case StateClosed:
		cb.failureCount.Store(0)
	case StateHalfOpen:
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if cb.successCount.Load() >= int64(cb.config.SuccessThreshold) {
			cb.state.Store(int32(StateClosed))
			cb.resetCounters()
		}
	}
}

// RecordFailure records a transport failure and may open the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.config.Enabled {
		return
	}

	failures := cb.failureCount.Add(1)
	cb.lastFailureTime.Store(timecache.CachedTimeNano())

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch CircuitBreakerState(cb.state.Load()) {
	case StateHalfOpen:
		cb.state.Store(int32(StateOpen))
	case StateClosed:
		if failures >= int64(cb.config.FailureThreshold) {
			cb.state.Store(int32(StateOpen))
		}
	}
}

// Execute runs fn when the breaker admits it. fn's error is recorded as a
// failure only when it is a transport error; the breaker returns
// CircuitBreakerOpen without calling fn otherwise.
func (cb *CircuitBreaker) Execute(endpoint string, fn func() error) error {
	if !cb.AllowRequest() {
		return NewCircuitBreakerOpenError(endpoint)
	}
	err := fn()
	if err != nil && isTransportFailure(err) {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// GetStats returns a snapshot for monitoring.
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	stats := CircuitBreakerStats{
		State:         cb.GetState(),
		FailureCount:  cb.failureCount.Load(),
		SuccessCount:  cb.successCount.Load(),
		RejectedCount: cb.rejectedCount.Load(),
	}
	if nano := cb.lastFailureTime.Load(); nano > 0 {
		stats.LastFailure = time.Unix(0, nano)
	}
	return stats
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state.Store(int32(StateClosed))
	cb.resetCounters()
}

func (cb *CircuitBreaker) shouldAttemptRecovery() bool {
	lastFailure := cb.lastFailureTime.Load()
	if lastFailure == 0 {
		return true
	}
	return time.Since(time.Unix(0, lastFailure)) >= cb.config.RecoveryTimeout
}

// resetCounters must be called with mu held.
func (cb *CircuitBreaker) resetCounters() {
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
	cb.probeCount.Store(0)
}

func isTransportFailure(err error) bool {
	return HasErrorCode(err, ErrCodeGRPCTransportError)
}

// CircuitBreakerStats contains statistics about circuit breaker operation.
type CircuitBreakerStats struct {
	State         CircuitBreakerState `json:"state"`
	FailureCount  int64               `json:"failure_count"`
	SuccessCount  int64               `json:"success_count"`
	RejectedCount int64               `json:"rejected_count"`
	LastFailure   time.Time           `json:"last_failure,omitempty"`
}

// circuit_breaker_test.go: tests for the remote problem circuit breaker
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCircuitBreakerState_String(t *testing.T) {
	testCases := []struct {
		state    CircuitBreakerState
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitBreakerState(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if actual := tc.state.String(); actual != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, actual)
			}
		})
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
		SuccessThreshold: 1,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess() // a success breaks the streak
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatalf("Expected closed after non-consecutive failures, got %s", cb.GetState())
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open after 3 consecutive failures, got %s", cb.GetState())
	}
	if cb.AllowRequest() {
		t.Error("Expected an open breaker to reject requests")
	}

	stats := cb.GetStats()
	if stats.RejectedCount != 1 {
		t.Errorf("Expected 1 rejected request, got %d", stats.RejectedCount)
	}
	if stats.LastFailure.IsZero() {
		t.Error("Expected LastFailure to be set")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 2,
	})

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.GetState())
	}
	time.Sleep(40 * time.Millisecond)

	// Only SuccessThreshold probes are admitted.
	if !cb.AllowRequest() || !cb.AllowRequest() {
		t.Fatal("Expected two probes to be admitted")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("Expected half-open, got %s", cb.GetState())
	}
	if cb.AllowRequest() {
		t.Error("Expected the third probe to be rejected")
	}

	cb.RecordSuccess()
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("One success must not close the breaker, got %s", cb.GetState())
	}
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("Expected closed after 2 successes, got %s", cb.GetState())
	}
	if !cb.AllowRequest() {
		t.Error("Expected a closed breaker to admit requests")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 1,
	})

	cb.RecordFailure()
	time.Sleep(40 * time.Millisecond)
	if !cb.AllowRequest() {
		t.Fatal("Expected a probe after the recovery timeout")
	}
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected a failed probe to reopen the breaker, got %s", cb.GetState())
	}
	if cb.AllowRequest() {
		t.Error("Expected the recovery timeout to restart")
	}
}

func TestCircuitBreaker_ExecuteCountsTransportFailuresOnly(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
		SuccessThreshold: 1,
	})

	rejected := NewInvalidPointError(2, 1, "continuous")
	for i := 0; i < 5; i++ {
		if err := cb.Execute("worker:9100", func() error { return rejected }); err != rejected {
			t.Fatalf("Expected the problem error to pass through, got %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("Problem errors must not open the breaker, got %s", cb.GetState())
	}

	transport := NewGRPCTransportError(errors.New("connection refused"))
	for i := 0; i < 2; i++ {
		_ = cb.Execute("worker:9100", func() error { return transport })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open after transport failures, got %s", cb.GetState())
	}

	called := false
	err := cb.Execute("worker:9100", func() error {
		called = true
		return nil
	})
	if called {
		t.Error("Expected fn not to run while open")
	}
	if !HasErrorCode(err, ErrCodeCircuitBreakerOpen) {
		t.Errorf("Expected CircuitBreakerOpen, got %v", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Hour})
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.GetState())
	}

	cb.Reset()
	stats := cb.GetStats()
	if stats.State != StateClosed || stats.FailureCount != 0 || stats.SuccessCount != 0 {
		t.Errorf("Expected a clean closed breaker, got %+v", stats)
	}
	if !cb.AllowRequest() {
		t.Error("Expected requests after Reset")
	}
}

func TestCircuitBreaker_DisabledBehavior(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: false, FailureThreshold: 1})

	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Disabled breaker must stay closed, got %s", cb.GetState())
	}
	if !cb.AllowRequest() {
		t.Error("Disabled breaker must admit every request")
	}
	if stats := cb.GetStats(); stats.FailureCount != 0 {
		t.Errorf("Disabled breaker must not count failures, got %d", stats.FailureCount)
	}
}

func TestCircuitBreaker_ConcurrentFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 50,
		RecoveryTimeout:  time.Hour,
		SuccessThreshold: 1,
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if cb.AllowRequest() {
					cb.RecordFailure()
				}
			}
		}()
	}
	wg.Wait()

	if cb.GetState() != StateOpen {
		t.Errorf("Expected open after 100 concurrent failures, got %s", cb.GetState())
	}
	stats := cb.GetStats()
	if stats.FailureCount+stats.RejectedCount != 100 {
		t.Errorf("Expected every request to be either a failure or a rejection, got %+v", stats)
	}
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	config := DefaultCircuitBreakerConfig()
	if !config.Enabled || config.FailureThreshold != 5 || config.SuccessThreshold != 2 || config.RecoveryTimeout != 30*time.Second {
		t.Errorf("Unexpected defaults %+v", config)
	}

	// Non-positive thresholds are clamped.
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, RecoveryTimeout: time.Hour})
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Errorf("Expected a zero threshold to behave as 1, got %s", cb.GetState())
	}
}

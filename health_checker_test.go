// health_checker_test.go: tests for periodic remote problem health checks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakePinger fails while failing is set and counts pings.
type fakePinger struct {
	failing atomic.Bool
	delay   time.Duration
	pings   atomic.Int64
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.pings.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.failing.Load() {
		return errors.New("service unavailable")
	}
	return nil
}

func TestHealthChecker_Creation(t *testing.T) {
	checker := NewProblemHealthChecker(&fakePinger{}, HealthCheckConfig{}, nil)

	if checker.config.Timeout != 5*time.Second {
		t.Errorf("Expected default timeout 5s, got %v", checker.config.Timeout)
	}
	if checker.config.FailureLimit != 3 {
		t.Errorf("Expected default failure limit 3, got %d", checker.config.FailureLimit)
	}
	if _, ok := checker.LastStatus(); ok {
		t.Error("Expected no status before the first check")
	}
	if !checker.GetLastCheck().IsZero() {
		t.Error("Expected a zero last check time")
	}
}

func TestHealthChecker_FailureEscalation(t *testing.T) {
	target := &fakePinger{}
	logger := NewTestLogger()
	checker := NewProblemHealthChecker(target, HealthCheckConfig{Timeout: time.Second, FailureLimit: 2}, logger)

	if status := checker.Check(); status.Status != StatusHealthy {
		t.Fatalf("Expected healthy, got %+v", status)
	}

	target.failing.Store(true)
	status := checker.Check()
	if status.Status != StatusUnhealthy {
		t.Fatalf("Expected unhealthy after one failure, got %s", status.Status)
	}
	if status.Message == "" {
		t.Error("Expected a failure message")
	}
	status = checker.Check()
	if status.Status != StatusOffline {
		t.Fatalf("Expected offline at the failure limit, got %s", status.Status)
	}
	if checker.GetConsecutiveFailures() != 2 {
		t.Errorf("Expected 2 consecutive failures, got %d", checker.GetConsecutiveFailures())
	}
	if logger.CountLevel("WARN") != 2 {
		t.Errorf("Expected a warning per failed check, got %d", logger.CountLevel("WARN"))
	}

	target.failing.Store(false)
	if status := checker.Check(); status.Status != StatusHealthy {
		t.Fatalf("Expected recovery, got %s", status.Status)
	}
	if checker.GetConsecutiveFailures() != 0 {
		t.Error("Expected the failure streak to reset")
	}

	last, ok := checker.LastStatus()
	if !ok || last.Status != StatusHealthy {
		t.Errorf("Expected the last status to be healthy, got %+v", last)
	}
	if checker.GetLastCheck().IsZero() {
		t.Error("Expected the last check time to be recorded")
	}
}

func TestHealthChecker_Timeout(t *testing.T) {
	target := &fakePinger{delay: time.Second}
	checker := NewProblemHealthChecker(target, HealthCheckConfig{Timeout: 20 * time.Millisecond, FailureLimit: 5}, nil)

	start := time.Now()
	status := checker.Check()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Expected the check to honour the timeout, took %v", elapsed)
	}
	if status.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy on timeout, got %s", status.Status)
	}
}

func TestHealthChecker_PeriodicChecking(t *testing.T) {
	target := &fakePinger{}
	checker := NewProblemHealthChecker(target, HealthCheckConfig{
		Enabled:  true,
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	}, nil)

	checker.Start()
	checker.Start() // idempotent
	if !checker.IsRunning() {
		t.Fatal("Expected the checker to be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for target.pings.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	checker.Stop()
	checker.Stop()

	if target.pings.Load() < 3 {
		t.Fatalf("Expected at least 3 periodic checks, got %d", target.pings.Load())
	}
	if checker.IsRunning() {
		t.Error("Expected the checker to be stopped")
	}

	after := target.pings.Load()
	time.Sleep(30 * time.Millisecond)
	if target.pings.Load() != after {
		t.Error("Expected no checks after Stop")
	}
}

func TestHealthChecker_DisabledConfig(t *testing.T) {
	target := &fakePinger{}
	checker := NewProblemHealthChecker(target, HealthCheckConfig{Enabled: false, Interval: time.Millisecond}, nil)

	checker.Start()
	if checker.IsRunning() {
		t.Error("Expected a disabled checker not to start")
	}
	checker.Stop()
	if target.pings.Load() != 0 {
		t.Errorf("Expected no pings, got %d", target.pings.Load())
	}
}

func TestHealthChecker_ConcurrentAccess(t *testing.T) {
	target := &fakePinger{}
	checker := NewProblemHealthChecker(target, HealthCheckConfig{Timeout: time.Second, FailureLimit: 1000}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if id%2 == 0 {
					checker.Check()
				} else {
					_, _ = checker.LastStatus()
					_ = checker.GetConsecutiveFailures()
				}
			}
		}(i)
	}
	wg.Wait()

	if target.pings.Load() != 80 {
		t.Errorf("Expected 80 pings, got %d", target.pings.Load())
	}
}

// panicPinger panics on every ping.
type panicPinger struct{}

func (panicPinger) Ping(context.Context) error { panic("pinger exploded") }

func TestHealthChecker_PanicInLoopIsRecovered(t *testing.T) {
	logger := NewTestLogger()
	checker := NewProblemHealthChecker(panicPinger{}, HealthCheckConfig{
		Enabled:  true,
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	}, logger)

	checker.Start()

	deadline := time.Now().Add(2 * time.Second)
	for checker.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if checker.IsRunning() {
		t.Fatal("Expected the checker to stop after the loop panicked")
	}

	stats := checker.RecoveryStats()
	if stats.TotalPanicsRecovered != 1 {
		t.Errorf("Expected 1 recovered panic, got %d", stats.TotalPanicsRecovered)
	}
	if stats.PanicsByComponent["health_checker"] != 1 {
		t.Errorf("Expected the panic under health_checker, got %v", stats.PanicsByComponent)
	}
	status, ok := checker.LastStatus()
	if !ok || status.Status != StatusOffline {
		t.Errorf("Expected an offline status, got %+v", status)
	}
	if !logger.HasMessage("ERROR", "Panic recovered with metrics tracking") {
		t.Error("Expected the panic to be logged")
	}

	// Stop is a no-op and a new Start is allowed.
	checker.Stop()
	checker.Start()
	deadline = time.Now().Add(2 * time.Second)
	for checker.RecoveryStats().TotalPanicsRecovered < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := checker.RecoveryStats().TotalPanicsRecovered; got != 2 {
		t.Errorf("Expected 2 recovered panics after restart, got %d", got)
	}
}

// health_checker.go: Periodic health monitoring of remote problems
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// HealthStatusCode classifies a health check result.
type HealthStatusCode string

const (
	StatusHealthy   HealthStatusCode = "healthy"
	StatusUnhealthy HealthStatusCode = "unhealthy"
	StatusOffline   HealthStatusCode = "offline"
)

// HealthStatus is the result of one check.
type HealthStatus struct {
	Status       HealthStatusCode `json:"status"`
	Message      string           `json:"message,omitempty"`
	LastCheck    time.Time        `json:"last_check"`
	ResponseTime time.Duration    `json:"response_time"`
}

// HealthCheckConfig contains health check settings.
//
//	health := HealthCheckConfig{
//	    Enabled:      true,
//	    Interval:     30 * time.Second,
//	    Timeout:      5 * time.Second,
//	    FailureLimit: 3,
//	}
type HealthCheckConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Interval     time.Duration `json:"interval" yaml:"interval"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	FailureLimit int           `json:"failure_limit" yaml:"failure_limit"`
}

// Pinger is anything that can answer a liveness probe. RemoteProblem
// implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProblemHealthChecker pings a target periodically and tracks consecutive
// failures. After FailureLimit consecutive failures the target is reported
// offline until a check succeeds again.
//
// Usage example:
//
//	checker := NewProblemHealthChecker(remote, HealthCheckConfig{
//	    Enabled:      true,
//	    Interval:     10 * time.Second,
//	    Timeout:      2 * time.Second,
//	    FailureLimit: 3,
//	}, logger)
//	checker.Start()
//	defer checker.Stop()
type ProblemHealthChecker struct {
	target Pinger
	config HealthCheckConfig
	logger Logger

	consecutiveFailures atomic.Int64
	lastCheck           atomic.Int64 // Unix nanoseconds
	last                atomic.Pointer[HealthStatus]
	running             atomic.Bool
	recovery            RecoveryMetrics

	mu       sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewProblemHealthChecker creates a stopped checker. Zero Timeout and
// FailureLimit default to 5s and 3.
func NewProblemHealthChecker(target Pinger, config HealthCheckConfig, logger any) *ProblemHealthChecker {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.FailureLimit <= 0 {
		config.FailureLimit = 3
	}
	return &ProblemHealthChecker{
		target: target,
		config: config,
		logger: NewLogger(logger).With("component", "health_checker"),
	}
}

// Check performs one synchronous ping within the configured timeout.
func (hc *ProblemHealthChecker) Check() HealthStatus {
	ctx, cancel := context.WithTimeout(context.Background(), hc.config.Timeout)
	defer cancel()

	start := time.Now()
	err := hc.target.Ping(ctx)
	status := HealthStatus{
		Status:       StatusHealthy,
		LastCheck:    timecache.CachedTime(),
		ResponseTime: time.Since(start),
	}
	hc.lastCheck.Store(timecache.CachedTimeNano())

	if err != nil {
		failures := hc.consecutiveFailures.Add(1)
		status.Status = StatusUnhealthy
		status.Message = NewHealthCheckFailedError("problem", err).Error()
		if failures >= int64(hc.config.FailureLimit) {
			status.Status = StatusOffline
			status.Message = "Exceeded consecutive failure limit"
		}
		hc.logger.Warn("Health check failed", "failures", failures, "error", err)
	} else {
		hc.consecutiveFailures.Store(0)
	}

	hc.last.Store(&status)
	return status
}

// Start runs periodic checks until Stop. It is idempotent and a no-op when
// checking is disabled.
func (hc *ProblemHealthChecker) Start() {
	if !hc.config.Enabled || hc.config.Interval <= 0 {
		return
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.running.CompareAndSwap(false, true) {
		hc.stopChan = make(chan struct{})
		hc.doneChan = make(chan struct{})
		SafeGoWithHandler(hc.recoverLoop, hc.run)
	}
}

// recoverLoop records a panic of the checking loop. The loop has ended by
// then, so the checker is marked stopped and reported offline; Start may
// be called again.
func (hc *ProblemHealthChecker) recoverLoop(recovered interface{}, stack []byte) {
	MetricsRecoveryHandler(hc.logger, &hc.recovery, "health_checker")(recovered, stack)
	hc.last.Store(&HealthStatus{
		Status:    StatusOffline,
		Message:   fmt.Sprintf("health check panicked: %v", recovered),
		LastCheck: timecache.CachedTime(),
	})
	hc.running.Store(false)
}

// RecoveryStats reports panics recovered from the checking loop.
func (hc *ProblemHealthChecker) RecoveryStats() RecoveryStats {
	return hc.recovery.Snapshot()
}

// Stop halts the periodic checks and waits for an in-flight check.
func (hc *ProblemHealthChecker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.running.CompareAndSwap(true, false) {
		close(hc.stopChan)
		<-hc.doneChan
	}
}

// IsRunning reports whether periodic checks are active.
func (hc *ProblemHealthChecker) IsRunning() bool {
	return hc.running.Load()
}

// LastStatus returns the most recent result, if any.
func (hc *ProblemHealthChecker) LastStatus() (HealthStatus, bool) {
	if s := hc.last.Load(); s != nil {
		return *s, true
	}
	return HealthStatus{}, false
}

// GetLastCheck returns the timestamp of the last check.
func (hc *ProblemHealthChecker) GetLastCheck() time.Time {
	timestamp := hc.lastCheck.Load()
	if timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(0, timestamp)
}

// GetConsecutiveFailures returns the current failure streak.
func (hc *ProblemHealthChecker) GetConsecutiveFailures() int64 {
	return hc.consecutiveFailures.Load()
}

func (hc *ProblemHealthChecker) run() {
	defer close(hc.doneChan)

	ticker := time.NewTicker(hc.config.Interval)
	defer ticker.Stop()

	hc.Check()
	for {
		select {
		case <-ticker.C:
			hc.Check()
		case <-hc.stopChan:
			return
		}
	}
}

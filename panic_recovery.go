// panic_recovery.go: Panic containment for module factories, destructors and background goroutines
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/agilira/go-timecache"
)

// RecoveryHandler receives the recovered value and the goroutine stack.
type RecoveryHandler func(recovered interface{}, stack []byte)

func captureStack() []byte {
	buf := make([]byte, 64<<10)
	n := runtime.Stack(buf, false)
	return buf[:n]
}

// withCustomRecoveryHandler returns a deferred function that hands a panic to handler.
func withCustomRecoveryHandler(handler RecoveryHandler) func() {
	return func() {
		if r := recover(); r != nil {
			handler(r, captureStack())
		}
	}
}

// recoverInto converts a panic in the current goroutine into an error stored
// in *errp. wrap builds the typed error from the panic description. It must be
// deferred directly:
//
//	defer recoverInto(&err, logger, func(cause error) error {
//	    return NewInstantiationError(path, cause)
//	})
func recoverInto(errp *error, logger Logger, wrap func(cause error) error) {
	r := recover()
	if r == nil {
		return
	}
	stack := captureStack()
	cause := fmt.Errorf("panic: %v", r)
	logger.Error("Panic recovered at module boundary",
		"panic", r,
		"stack", string(stack))
	*errp = wrap(cause)
}

// SafeGoWithHandler runs fn in a new goroutine; a panic is handed to handler
// instead of crashing the process.
func SafeGoWithHandler(handler RecoveryHandler, fn func()) {
	go func() {
		defer withCustomRecoveryHandler(handler)()
		fn()
	}()
}

// RecoveryStats is a point-in-time copy of RecoveryMetrics.
type RecoveryStats struct {
	TotalPanicsRecovered int64            `json:"total_panics_recovered"`
	LastPanicTime        int64            `json:"last_panic_time_unix"`
	PanicsByComponent    map[string]int64 `json:"panics_by_component"`
}

// RecoveryMetrics counts recovered panics per component.
type RecoveryMetrics struct {
	mu    sync.Mutex
	stats RecoveryStats
}

// Snapshot returns a copy safe to read while panics are still being recorded.
func (m *RecoveryMetrics) Snapshot() RecoveryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	byComponent := make(map[string]int64, len(m.stats.PanicsByComponent))
	for k, v := range m.stats.PanicsByComponent {
		byComponent[k] = v
	}
	return RecoveryStats{
		TotalPanicsRecovered: m.stats.TotalPanicsRecovered,
		LastPanicTime:        m.stats.LastPanicTime,
		PanicsByComponent:    byComponent,
	}
}

func (m *RecoveryMetrics) record(component string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.TotalPanicsRecovered++
	m.stats.LastPanicTime = timecache.CachedTime().Unix()
	if m.stats.PanicsByComponent == nil {
		m.stats.PanicsByComponent = make(map[string]int64)
	}
	m.stats.PanicsByComponent[component]++
	return m.stats.TotalPanicsRecovered
}

// MetricsRecoveryHandler creates a recovery handler that tracks panic metrics.
func MetricsRecoveryHandler(logger Logger, metrics *RecoveryMetrics, component string) RecoveryHandler {
	return func(recovered interface{}, stack []byte) {
		total := metrics.record(component)
		logger.Error("Panic recovered with metrics tracking",
			"panic", recovered,
			"component", component,
			"total_panics", total,
			"stack", string(stack))
	}
}

// module_manager.go: Dynamic problem module lifecycle (load, resolve, instantiate, destroy, unload)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// CreateFunc is the factory a problem module exports.
type CreateFunc func() Problem

// DestroyFunc is the destructor a problem module exports.
type DestroyFunc func(Problem)

// ModuleVerifier authorizes a module file before it is opened.
type ModuleVerifier interface {
	Verify(path string) error
}

// ModuleManagerConfig configures a ModuleManager.
type ModuleManagerConfig struct {
	// Opener maps module paths to handles. Defaults to DefaultModuleOpener.
	Opener ModuleOpener

	// CreateSymbol and DestroySymbol name the exported factory and destructor.
	CreateSymbol  string
	DestroySymbol string

	// Verifier, when set, is consulted for every file-backed module.
	Verifier ModuleVerifier

	// Logger accepts a Logger, a *slog.Logger or nil.
	Logger any
}

// DefaultModuleManagerConfig returns the default configuration.
func DefaultModuleManagerConfig() ModuleManagerConfig {
	return ModuleManagerConfig{
		CreateSymbol:  DefaultCreateSymbol,
		DestroySymbol: DefaultDestroySymbol,
	}
}

// ModuleManagerStats is a snapshot of manager counters.
type ModuleManagerStats struct {
	Loads         int64     `json:"loads"`
	Unloads       int64     `json:"unloads"`
	LoadFailures  int64     `json:"load_failures"`
	DestroyPanics int64     `json:"destroy_panics"`
	CurrentPath   string    `json:"current_path,omitempty"`
	LastLoadedAt  time.Time `json:"last_loaded_at,omitempty"`
}

// ProblemOptions are applied by InitProblem after loading.
type ProblemOptions struct {
	ConfigPath string
	Dimension  int
	Parameters []Parameter
}

type loadedModule struct {
	path     string
	handle   ModuleHandle
	create   CreateFunc
	destroy  DestroyFunc
	instance Problem
	loadedAt time.Time
}

// ModuleManager owns at most one loaded problem module and its single live
// instance. The instance is always destroyed while the module handle is
// still open, and loading a module first unloads the previous one.
//
// The manager is meant to be driven from one controlling goroutine; its
// fields are still guarded so GetProblem is safe to call concurrently.
//
// Example usage:
//
//	manager := NewModuleManager(DefaultModuleManagerConfig())
//	defer manager.Close()
//
//	if err := manager.Load("builtin:rastrigin"); err != nil {
//	    return err
//	}
//	problem := manager.GetProblem()
//	_ = problem.SetDimension(4)
//	_ = problem.Initialize()
type ModuleManager struct {
	mu      sync.RWMutex
	config  ModuleManagerConfig
	logger  Logger
	current *loadedModule

	loads         atomic.Int64
	unloads       atomic.Int64
	loadFailures  atomic.Int64
	destroyPanics atomic.Int64
	lastLoadNano  atomic.Int64
}

// NewModuleManager creates a manager. Empty symbol names fall back to the defaults.
func NewModuleManager(config ModuleManagerConfig) *ModuleManager {
	logger := NewLogger(config.Logger)
	if config.Opener == nil {
		config.Opener = DefaultModuleOpener(logger)
	}
	if config.CreateSymbol == "" {
		config.CreateSymbol = DefaultCreateSymbol
	}
	if config.DestroySymbol == "" {
		config.DestroySymbol = DefaultDestroySymbol
	}
	return &ModuleManager{
		config: config,
		logger: logger.With("component", "module_manager"),
	}
}

// Load unloads the current module, then opens path, resolves the factory
// and destructor and creates exactly one problem instance. On failure
// nothing stays loaded.
func (m *ModuleManager) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.unloadLocked(); err != nil {
		m.logger.Warn("Previous module did not unload cleanly", "error", err)
	}

	if m.config.Verifier != nil && !IsBuiltinPath(path) {
		if err := m.config.Verifier.Verify(path); err != nil {
			m.loadFailures.Add(1)
			m.logger.Error("Module rejected by verifier", "path", path, "error", err)
			return err
		}
	}

	handle, err := m.config.Opener.Open(path)
	if err != nil {
		m.loadFailures.Add(1)
		m.logger.Error("Failed to open module", "path", path, "error", err)
		return NewLoadError(path, err)
	}

	create, err := resolveCreate(handle, m.config.CreateSymbol)
	if err != nil {
		return m.abortLoad(handle, NewSymbolError(path, m.config.CreateSymbol, err))
	}
	destroy, err := resolveDestroy(handle, m.config.DestroySymbol)
	if err != nil {
		return m.abortLoad(handle, NewSymbolError(path, m.config.DestroySymbol, err))
	}

	instance, err := m.instantiate(path, create)
	if err != nil {
		return m.abortLoad(handle, err)
	}

	now := timecache.CachedTime()
	m.current = &loadedModule{
		path:     path,
		handle:   handle,
		create:   create,
		destroy:  destroy,
		instance: instance,
		loadedAt: now,
	}
	m.loads.Add(1)
	m.lastLoadNano.Store(now.UnixNano())
	m.logger.Info("Problem module loaded", "path", path)
	return nil
}

func (m *ModuleManager) abortLoad(handle ModuleHandle, err error) error {
	m.loadFailures.Add(1)
	if closeErr := handle.Close(); closeErr != nil {
		m.logger.Warn("Failed to close module after load error", "error", closeErr)
	}
	m.logger.Error("Module load aborted", "error", err)
	return err
}

func (m *ModuleManager) instantiate(path string, create CreateFunc) (instance Problem, err error) {
	defer recoverInto(&err, m.logger, func(cause error) error {
		return NewInstantiationError(path, cause)
	})
	instance = create()
	if isNilProblem(instance) {
		return nil, NewInstantiationError(path, fmt.Errorf("factory returned nil"))
	}
	return instance, nil
}

// GetProblem returns the live instance, or nil when nothing is loaded.
func (m *ModuleManager) GetProblem() Problem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	return m.current.instance
}

// Path returns the path of the loaded module, or "".
func (m *ModuleManager) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.path
}

// IsLoaded reports whether a module is loaded.
func (m *ModuleManager) IsLoaded() bool {
	return m.GetProblem() != nil
}

// Unload destroys the instance, then closes the module handle. It is a
// no-op when nothing is loaded. A panicking destructor is reported but the
// handle is closed regardless.
func (m *ModuleManager) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked()
}

// Close is Unload, for use with defer.
func (m *ModuleManager) Close() error {
	return m.Unload()
}

func (m *ModuleManager) unloadLocked() error {
	cur := m.current
	if cur == nil {
		return nil
	}
	m.current = nil

	var firstErr error
	if cur.instance != nil && cur.destroy != nil {
		if err := m.destroyInstance(cur); err != nil {
			m.destroyPanics.Add(1)
			firstErr = err
		}
	}
	if err := cur.handle.Close(); err != nil {
		m.logger.Warn("Failed to close module handle", "path", cur.path, "error", err)
		if firstErr == nil {
			firstErr = NewDestroyError(cur.path, err)
		}
	}

	m.unloads.Add(1)
	m.logger.Info("Problem module unloaded", "path", cur.path)
	return firstErr
}

func (m *ModuleManager) destroyInstance(cur *loadedModule) (err error) {
	defer recoverInto(&err, m.logger, func(cause error) error {
		return NewDestroyError(cur.path, cause)
	})
	cur.destroy(cur.instance)
	cur.instance = nil
	return nil
}

// InitProblem loads path and prepares the instance: config path, dimension
// (when positive), parameters, then Initialize. Parameters are applied after
// the dimension so layout parameters are checked against it. Unsupported optional
// settings are skipped with a warning. Any other failure unloads the module.
func (m *ModuleManager) InitProblem(path string, opts ProblemOptions) (Problem, error) {
	if err := m.Load(path); err != nil {
		return nil, err
	}
	problem := m.GetProblem()

	fail := func(err error) (Problem, error) {
		if unloadErr := m.Unload(); unloadErr != nil {
			m.logger.Warn("Unload after failed initialization reported an error", "error", unloadErr)
		}
		return nil, err
	}

	if opts.ConfigPath != "" {
		if err := problem.SetConfigPath(opts.ConfigPath); err != nil {
			if !IsUnsupported(err) {
				return fail(err)
			}
			m.logger.Warn("Problem ignores config path", "path", path)
		}
	}
	if opts.Dimension > 0 {
		if err := problem.SetDimension(opts.Dimension); err != nil {
			return fail(err)
		}
	}
	for _, param := range opts.Parameters {
		if err := problem.SetParameter(param.Name, param.Value); err != nil {
			if !IsUnsupported(err) {
				return fail(err)
			}
			m.logger.Warn("Problem ignores parameter", "parameter", param.Name)
		}
	}
	if err := problem.Initialize(); err != nil {
		return fail(err)
	}
	return problem, nil
}

// Stats returns a snapshot of the manager counters.
func (m *ModuleManager) Stats() ModuleManagerStats {
	stats := ModuleManagerStats{
		Loads:         m.loads.Load(),
		Unloads:       m.unloads.Load(),
		LoadFailures:  m.loadFailures.Load(),
		DestroyPanics: m.destroyPanics.Load(),
		CurrentPath:   m.Path(),
	}
	if nano := m.lastLoadNano.Load(); nano > 0 {
		stats.LastLoadedAt = time.Unix(0, nano)
	}
	return stats
}

func resolveCreate(handle ModuleHandle, symbol string) (CreateFunc, error) {
	sym, err := handle.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	switch f := sym.(type) {
	case func() Problem:
		return f, nil
	case CreateFunc:
		return f, nil
	case *func() Problem:
		if f != nil && *f != nil {
			return *f, nil
		}
	case *CreateFunc:
		if f != nil && *f != nil {
			return *f, nil
		}
	}
	return nil, fmt.Errorf("symbol %s has type %T, want func() Problem", symbol, sym)
}

func resolveDestroy(handle ModuleHandle, symbol string) (DestroyFunc, error) {
	sym, err := handle.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	switch f := sym.(type) {
	case func(Problem):
		return f, nil
	case DestroyFunc:
		return f, nil
	case *func(Problem):
		if f != nil && *f != nil {
			return *f, nil
		}
	case *DestroyFunc:
		if f != nil && *f != nil {
			return *f, nil
		}
	}
	return nil, fmt.Errorf("symbol %s has type %T, want func(Problem)", symbol, sym)
}

// isNilProblem also catches a typed nil pointer stored in the interface.
func isNilProblem(p Problem) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

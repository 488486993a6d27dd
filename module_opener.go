// module_opener.go: Module openers mapping a path to a handle with resolvable symbols
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// BuiltinScheme prefixes paths served by the in-process module registry.
const BuiltinScheme = "builtin:"

// Default exported symbol names of a problem module.
const (
	DefaultCreateSymbol  = "Create"
	DefaultDestroySymbol = "Destroy"
)

// ModuleHandle is an open module. Symbols must not be used after Close.
type ModuleHandle interface {
	Lookup(symbol string) (any, error)
	Close() error
}

// ModuleOpener maps a module path to a handle.
type ModuleOpener interface {
	Open(path string) (ModuleHandle, error)
}

// PluginOpener opens Go plugins built with -buildmode=plugin.
//
// The Go runtime never unmaps a plugin: Close only invalidates the handle,
// and reopening the same path returns the already mapped image.
type PluginOpener struct {
	logger Logger
}

// NewPluginOpener creates a plugin opener.
func NewPluginOpener(logger any) *PluginOpener {
	return &PluginOpener{logger: NewLogger(logger)}
}

// Open maps the plugin at path.
func (o *PluginOpener) Open(path string) (ModuleHandle, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve module path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("module path %s is a directory", absPath)
	}

	p, err := plugin.Open(absPath)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("Plugin module mapped", "path", absPath)
	return &pluginHandle{path: absPath, plugin: p}, nil
}

type pluginHandle struct {
	path   string
	plugin *plugin.Plugin
	closed atomic.Bool
}

func (h *pluginHandle) Lookup(symbol string) (any, error) {
	if h.closed.Load() {
		return nil, fmt.Errorf("module %s is closed", h.path)
	}
	sym, err := h.plugin.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

func (h *pluginHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// ModuleRegistry is an in-process opener: modules are symbol tables
// registered under a path such as "builtin:rastrigin".
type ModuleRegistry struct {
	mu      sync.RWMutex
	modules map[string]map[string]any
	open    atomic.Int64
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: make(map[string]map[string]any)}
}

// Register adds a module exporting symbols under path.
func (r *ModuleRegistry) Register(path string, symbols map[string]any) error {
	if strings.TrimSpace(path) == "" {
		return NewModuleRegistryError(path, "empty module path")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[path]; exists {
		return NewModuleRegistryError(path, "module already registered")
	}
	table := make(map[string]any, len(symbols))
	for name, sym := range symbols {
		table[name] = sym
	}
	r.modules[path] = table
	return nil
}

// RegisterProblem registers a module whose Create calls create and whose
// Destroy closes problems that hold resources.
func (r *ModuleRegistry) RegisterProblem(path string, create func() Problem) error {
	return r.Register(path, map[string]any{
		DefaultCreateSymbol:  create,
		DefaultDestroySymbol: destroyProblem,
	})
}

// Paths lists registered module paths in sorted order.
func (r *ModuleRegistry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.modules))
	for p := range r.modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// OpenCount returns the number of handles not yet closed.
func (r *ModuleRegistry) OpenCount() int64 {
	return r.open.Load()
}

// Open returns a handle over the symbols registered at path.
func (r *ModuleRegistry) Open(path string) (ModuleHandle, error) {
	r.mu.RLock()
	symbols, ok := r.modules[path]
	r.mu.RUnlock()
	if !ok {
		return nil, NewModuleRegistryError(path, "module not registered")
	}
	r.open.Add(1)
	return &registryHandle{registry: r, path: path, symbols: symbols}, nil
}

type registryHandle struct {
	registry *ModuleRegistry
	path     string
	symbols  map[string]any
	closed   atomic.Bool
}

func (h *registryHandle) Lookup(symbol string) (any, error) {
	if h.closed.Load() {
		return nil, NewModuleRegistryError(h.path, "module is closed")
	}
	sym, ok := h.symbols[symbol]
	if !ok {
		return nil, NewModuleRegistryError(h.path, "symbol not exported: "+symbol)
	}
	return sym, nil
}

func (h *registryHandle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.registry.open.Add(-1)
	}
	return nil
}

// NewBuiltinRegistry returns a registry with the native benchmark problems,
// the scripted problem adapter and the remote problem client.
func NewBuiltinRegistry() *ModuleRegistry {
	return newBuiltinRegistry(DefaultRemoteProblemConfig(), nil)
}

func newBuiltinRegistry(remote RemoteProblemConfig, logger any) *ModuleRegistry {
	r := NewModuleRegistry()
	builtins := map[string]func() Problem{
		"rastrigin":     func() Problem { return NewRastrigin() },
		"x2":            func() Problem { return NewX2() },
		"stronginc3":    func() Problem { return NewStronginC3() },
		"rastrigin_int": func() Problem { return NewRastriginInt() },
		"scripted": func() Problem {
			p := NewScriptedProblem(nil)
			if logger != nil {
				p.SetLogger(logger)
			}
			return p
		},
		"remote": func() Problem { return NewRemoteProblem(remote) },
	}
	for name, create := range builtins {
		// Paths are unique by construction.
		_ = r.RegisterProblem(BuiltinScheme+name, create)
	}
	return r
}

// SchemeOpener routes "builtin:" paths to Registry and all others to Fallback.
type SchemeOpener struct {
	Registry *ModuleRegistry
	Fallback ModuleOpener
}

// DefaultModuleOpener serves the builtin registry and Go plugins. Scripted
// and remote builtins log through logger.
func DefaultModuleOpener(logger any) *SchemeOpener {
	remote := DefaultRemoteProblemConfig()
	remote.Logger = logger
	return &SchemeOpener{
		Registry: newBuiltinRegistry(remote, logger),
		Fallback: NewPluginOpener(logger),
	}
}

// Open dispatches on the path scheme.
func (s *SchemeOpener) Open(path string) (ModuleHandle, error) {
	if IsBuiltinPath(path) {
		if s.Registry == nil {
			return nil, NewModuleRegistryError(path, "no builtin registry configured")
		}
		return s.Registry.Open(path)
	}
	if s.Fallback == nil {
		return nil, fmt.Errorf("no opener configured for %s", path)
	}
	return s.Fallback.Open(path)
}

// IsBuiltinPath reports whether path addresses the in-process registry.
func IsBuiltinPath(path string) bool {
	return strings.HasPrefix(path, BuiltinScheme)
}

// module_manager_test.go: module lifecycle tests with an event-recording opener
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingOpener serves fake modules and records every lifecycle step.
type recordingOpener struct {
	mu       sync.Mutex
	events   []string
	modules  map[string]map[string]any
	destroys atomic.Int64
	openErr  error
}

func newRecordingOpener() *recordingOpener {
	return &recordingOpener{modules: make(map[string]map[string]any)}
}

func (o *recordingOpener) record(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingOpener) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

// addProblemModule registers a module whose Create and Destroy record events.
func (o *recordingOpener) addProblemModule(path string) {
	o.modules[path] = map[string]any{
		"Create": func() Problem {
			o.record("create " + path)
			return NewX2()
		},
		"Destroy": func(p Problem) {
			o.destroys.Add(1)
			o.record("destroy " + path)
		},
	}
}

func (o *recordingOpener) Open(path string) (ModuleHandle, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	symbols, ok := o.modules[path]
	if !ok {
		return nil, fmt.Errorf("no such module: %s", path)
	}
	o.record("open " + path)
	return &recordingHandle{opener: o, path: path, symbols: symbols}, nil
}

type recordingHandle struct {
	opener  *recordingOpener
	path    string
	symbols map[string]any
}

func (h *recordingHandle) Lookup(symbol string) (any, error) {
	sym, ok := h.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found", symbol)
	}
	return sym, nil
}

func (h *recordingHandle) Close() error {
	h.opener.record("close " + h.path)
	return nil
}

func newTestManager(opener ModuleOpener, logger Logger) *ModuleManager {
	config := DefaultModuleManagerConfig()
	config.Opener = opener
	config.Logger = logger
	return NewModuleManager(config)
}

func TestModuleManager_LoadAndGetProblem(t *testing.T) {
	opener := newRecordingOpener()
	opener.addProblemModule("a.so")
	manager := newTestManager(opener, NewTestLogger())

	assert.Nil(t, manager.GetProblem())
	require.NoError(t, manager.Load("a.so"))

	assert.NotNil(t, manager.GetProblem())
	assert.True(t, manager.IsLoaded())
	assert.Equal(t, "a.so", manager.Path())
	assert.Equal(t, []string{"open a.so", "create a.so"}, opener.Events())
}

func TestModuleManager_ReloadDestroysPreviousBeforeOpening(t *testing.T) {
	opener := newRecordingOpener()
	opener.addProblemModule("a.so")
	opener.addProblemModule("b.so")
	manager := newTestManager(opener, nil)

	require.NoError(t, manager.Load("a.so"))
	first := manager.GetProblem()
	require.NoError(t, manager.Load("b.so"))

	assert.NotSame(t, first, manager.GetProblem())
	assert.Equal(t, "b.so", manager.Path())
	assert.Equal(t, int64(1), opener.destroys.Load())
	assert.Equal(t, []string{
		"open a.so", "create a.so",
		"destroy a.so", "close a.so",
		"open b.so", "create b.so",
	}, opener.Events())
}

func TestModuleManager_UnloadIsIdempotent(t *testing.T) {
	opener := newRecordingOpener()
	opener.addProblemModule("a.so")
	manager := newTestManager(opener, nil)

	require.NoError(t, manager.Unload(), "unload on an empty manager is a no-op")

	require.NoError(t, manager.Load("a.so"))
	require.NoError(t, manager.Unload())
	require.NoError(t, manager.Unload())

	assert.Nil(t, manager.GetProblem())
	assert.Equal(t, int64(1), opener.destroys.Load())
	assert.Equal(t, []string{"open a.so", "create a.so", "destroy a.so", "close a.so"}, opener.Events())

	stats := manager.Stats()
	assert.Equal(t, int64(1), stats.Loads)
	assert.Equal(t, int64(1), stats.Unloads)
	assert.Empty(t, stats.CurrentPath)
}

func TestModuleManager_LoadFailures(t *testing.T) {
	tests := []struct {
		name     string
		symbols  map[string]any
		wantCode string
	}{
		{
			name:     "MissingCreate",
			symbols:  map[string]any{"Destroy": func(Problem) {}},
			wantCode: ErrCodeSymbolError,
		},
		{
			name:     "MissingDestroy",
			symbols:  map[string]any{"Create": func() Problem { return NewX2() }},
			wantCode: ErrCodeSymbolError,
		},
		{
			name:     "WrongCreateType",
			symbols:  map[string]any{"Create": func() int { return 1 }, "Destroy": func(Problem) {}},
			wantCode: ErrCodeSymbolError,
		},
		{
			name:     "FactoryReturnsNil",
			symbols:  map[string]any{"Create": func() Problem { return nil }, "Destroy": func(Problem) {}},
			wantCode: ErrCodeInstantiationError,
		},
		{
			name: "FactoryReturnsTypedNil",
			symbols: map[string]any{
				"Create":  func() Problem { var r *Rastrigin; return r },
				"Destroy": func(Problem) {},
			},
			wantCode: ErrCodeInstantiationError,
		},
		{
			name: "FactoryPanics",
			symbols: map[string]any{
				"Create":  func() Problem { panic("factory failure") },
				"Destroy": func(Problem) {},
			},
			wantCode: ErrCodeInstantiationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := newRecordingOpener()
			opener.modules["broken.so"] = tt.symbols
			manager := newTestManager(opener, nil)

			err := manager.Load("broken.so")
			require.Error(t, err)
			assert.True(t, HasErrorCode(err, tt.wantCode), "got %v", err)
			assert.Nil(t, manager.GetProblem())

			events := opener.Events()
			require.NotEmpty(t, events)
			assert.Equal(t, "close broken.so", events[len(events)-1], "handle must be closed after a failed load")
			assert.Equal(t, int64(1), manager.Stats().LoadFailures)
		})
	}
}

func TestModuleManager_OpenFailureHasNoSideEffects(t *testing.T) {
	opener := newRecordingOpener()
	opener.openErr = fmt.Errorf("no such file")
	manager := newTestManager(opener, nil)

	err := manager.Load("missing.so")
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeLoadError))
	assert.Empty(t, opener.Events())
	assert.False(t, manager.IsLoaded())
}

func TestModuleManager_DestroyPanicStillClosesHandle(t *testing.T) {
	opener := newRecordingOpener()
	opener.modules["a.so"] = map[string]any{
		"Create":  func() Problem { return NewX2() },
		"Destroy": func(Problem) { panic("destructor failure") },
	}
	logger := NewTestLogger()
	manager := newTestManager(opener, logger)

	require.NoError(t, manager.Load("a.so"))
	err := manager.Unload()
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeDestroyError))
	assert.Equal(t, "close a.so", opener.Events()[len(opener.Events())-1])
	assert.Equal(t, int64(1), manager.Stats().DestroyPanics)
	assert.True(t, logger.HasMessage("ERROR", "Panic recovered at module boundary"))
}

func TestModuleManager_PointerSymbols(t *testing.T) {
	create := func() Problem { return NewRastrigin() }
	destroy := func(Problem) {}
	opener := newRecordingOpener()
	opener.modules["vars.so"] = map[string]any{"Create": &create, "Destroy": &destroy}
	manager := newTestManager(opener, nil)

	require.NoError(t, manager.Load("vars.so"))
	assert.IsType(t, &Rastrigin{}, manager.GetProblem())
}

func TestModuleManager_CustomSymbolNames(t *testing.T) {
	opener := newRecordingOpener()
	opener.modules["legacy.so"] = map[string]any{
		"NewProblem":     func() Problem { return NewX2() },
		"DestroyProblem": func(Problem) {},
	}
	manager := NewModuleManager(ModuleManagerConfig{
		Opener:        opener,
		CreateSymbol:  "NewProblem",
		DestroySymbol: "DestroyProblem",
	})

	require.NoError(t, manager.Load("legacy.so"))
	assert.NotNil(t, manager.GetProblem())
}

type denyVerifier struct{ calls atomic.Int64 }

func (v *denyVerifier) Verify(path string) error {
	v.calls.Add(1)
	return NewUnauthorizedModuleError(path, "not whitelisted")
}

func TestModuleManager_VerifierRejectsFileModules(t *testing.T) {
	verifier := &denyVerifier{}
	manager := NewModuleManager(ModuleManagerConfig{Verifier: verifier})
	defer manager.Close()

	err := manager.Load("/tmp/untrusted.so")
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeUnauthorizedModule))

	require.NoError(t, manager.Load("builtin:x2"), "builtin modules bypass file verification")
	assert.Equal(t, int64(1), verifier.calls.Load())
}

func TestModuleManager_BuiltinRegistryAccounting(t *testing.T) {
	registry := NewBuiltinRegistry()
	manager := NewModuleManager(ModuleManagerConfig{Opener: &SchemeOpener{Registry: registry}})

	require.NoError(t, manager.Load("builtin:rastrigin"))
	assert.Equal(t, int64(1), registry.OpenCount())
	require.NoError(t, manager.Load("builtin:stronginc3"))
	assert.Equal(t, int64(1), registry.OpenCount())
	require.NoError(t, manager.Unload())
	assert.Equal(t, int64(0), registry.OpenCount())

	err := manager.Load("builtin:unknown")
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeLoadError))

	err = manager.Load("plugins/problem.so")
	require.Error(t, err, "no fallback opener configured")
}

func TestModuleManager_InitProblem(t *testing.T) {
	manager := NewModuleManager(DefaultModuleManagerConfig())
	defer manager.Close()

	problem, err := manager.InitProblem("builtin:rastrigin", ProblemOptions{Dimension: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, problem.GetDimension())

	lower, upper, err := problem.GetBounds()
	require.NoError(t, err)
	assert.Len(t, lower, 5)
	assert.Len(t, upper, 5)

	_, err = manager.InitProblem("builtin:stronginc3", ProblemOptions{Dimension: 3})
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeInvalidDimension))
	assert.False(t, manager.IsLoaded(), "a failed initialization unloads the module")
}

func TestModuleManager_NativeRastriginValue(t *testing.T) {
	manager := NewModuleManager(DefaultModuleManagerConfig())
	defer manager.Close()

	problem, err := manager.InitProblem("builtin:rastrigin", ProblemOptions{Dimension: 2})
	require.NoError(t, err)
	require.Same(t, problem, manager.GetProblem())

	// Each coordinate contributes 0.25 - 10 cos(pi) + 10 = 20.25.
	v, err := manager.GetProblem().CalculateFunctionals([]float64{0.5, 0.5}, nil, 0)
	require.NoError(t, err)
	assert.InDelta(t, 40.5, v, 1e-9)
}

func TestModuleManager_InitProblemParameters(t *testing.T) {
	manager := NewModuleManager(DefaultModuleManagerConfig())
	defer manager.Close()

	problem, err := manager.InitProblem("builtin:rastrigin_int", ProblemOptions{
		Dimension:  4,
		Parameters: []Parameter{{Name: "discrete_count", Value: "2"}, {Name: "unknown", Value: "x"}},
		ConfigPath: "/etc/ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, problem.GetNumberOfDiscreteVariable())
	assert.Equal(t, 2, problem.GetNumberOfContinuousVariable())

	// More discrete coordinates than the default dimension holds.
	problem, err = manager.InitProblem("builtin:rastrigin_int", ProblemOptions{
		Dimension:  5,
		Parameters: []Parameter{{Name: "discrete_count", Value: "3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, problem.GetDimension())
	assert.Equal(t, 3, problem.GetNumberOfDiscreteVariable())
	assert.Equal(t, 2, problem.GetNumberOfContinuousVariable())
	assert.True(t, manager.IsLoaded())
}

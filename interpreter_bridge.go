// interpreter_bridge.go: Bridge exposing a script problem object through exclusive interpreter access
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
	"go.starlark.net/starlark"
)

// ConstructorParametersFunc is the module-level function listing the
// constructor parameter names of a class, in declaration order.
const ConstructorParametersFunc = "constructor_parameters"

// AdapterConstructor wraps a problem object into the host protocol.
const AdapterConstructor = "GlobalizerProblem"

// BridgeConfig describes the script object a bridge hosts.
type BridgeConfig struct {
	// SearchPath is added to the session module search path.
	SearchPath string

	// ModuleName is the script module, without extension.
	ModuleName string

	// ClassName is the callable in ModuleName constructing the problem object.
	ClassName string

	// Parameters are matched by name against constructor_parameters(ClassName).
	Parameters []NamedParam

	// Session defaults to ProcessSession.
	Session *InterpreterSession

	// Logger accepts a Logger, a *slog.Logger or nil.
	Logger any
}

// BridgeStats reports call counters of a bridge.
type BridgeStats struct {
	ID         string    `json:"id"`
	Calls      int64     `json:"calls"`
	Failures   int64     `json:"failures"`
	LastCallAt time.Time `json:"last_call_at,omitempty"`
	Closed     bool      `json:"closed"`
}

// InterpreterBridge hosts one adapted script problem object. Dimension,
// bounds and discrete domains are read once at construction; every other
// query runs script code under the session access token, so concurrent
// callers are serialized.
type InterpreterBridge struct {
	id      string
	config  BridgeConfig
	session *InterpreterSession
	logger  Logger

	// Guarded by the session access token.
	module  starlark.StringDict
	class   starlark.Value
	adapter starlark.Value

	dimension int
	lower     []float64
	upper     []float64
	discrete  [][]string

	closed    atomic.Bool
	closeOnce sync.Once

	calls        atomic.Int64
	failures     atomic.Int64
	lastCallNano atomic.Int64
}

// NewInterpreterBridge imports the module, constructs and adapts the problem
// object and caches its metadata. On error the session reference is
// released and no bridge is returned.
func NewInterpreterBridge(ctx context.Context, config BridgeConfig) (*InterpreterBridge, error) {
	if strings.TrimSpace(config.ModuleName) == "" {
		return nil, NewConfigurationError("module_name", "module name is required", nil)
	}
	if strings.TrimSpace(config.ClassName) == "" {
		return nil, NewConfigurationError("class_name", "class name is required", nil)
	}
	session := config.Session
	if session == nil {
		session = ProcessSession()
	}
	if err := session.AddSearchPath(config.SearchPath); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	b := &InterpreterBridge{
		id:      id,
		config:  config,
		session: session,
		logger: NewLogger(config.Logger).With(
			"component", "interpreter_bridge",
			"bridge_id", id,
			"module", config.ModuleName,
			"class", config.ClassName),
	}

	session.retain(id)
	token, err := session.Acquire(ctx)
	if err != nil {
		session.release(id)
		return nil, err
	}
	err = b.construct(ctx, token)
	if err != nil {
		b.module, b.class, b.adapter = nil, nil, nil
	}
	token.Release()
	if err != nil {
		session.release(id)
		return nil, err
	}

	b.logger.Info("Script problem constructed",
		"dimension", b.dimension,
		"discrete", len(b.discrete))
	return b, nil
}

func (b *InterpreterBridge) construct(ctx context.Context, token *AccessToken) error {
	module, err := token.Import(b.config.ModuleName)
	if err != nil {
		return b.configError(b.config.ModuleName, "module import failed", err)
	}
	b.module = module

	class, ok := module[b.config.ClassName]
	if !ok {
		return b.configError(b.config.ClassName, "class not found in module", nil)
	}
	if _, ok := class.(starlark.Callable); !ok {
		return b.configError(b.config.ClassName, "class is not callable: "+class.Type(), nil)
	}
	b.class = class

	declared, err := b.constructorParameters(ctx, token)
	if err != nil {
		return err
	}
	args, kwargs, ignored := buildConstructorArgs(declared, b.config.Parameters)
	if len(ignored) > 0 {
		b.logger.Debug("Parameters not declared by constructor", "ignored", ignored)
	}

	inner, err := token.Call(ctx, class, args, kwargs)
	if err != nil {
		return b.configError(b.config.ClassName, "problem construction failed", err)
	}

	adapterModule, err := token.Import(AdapterModuleName)
	if err != nil {
		return b.configError(AdapterModuleName, "adapter import failed", err)
	}
	adapterCtor, ok := adapterModule[AdapterConstructor]
	if !ok {
		return b.configError(AdapterConstructor, "adapter constructor not found", nil)
	}
	adapter, err := token.Call(ctx, adapterCtor, starlark.Tuple{inner}, nil)
	if err != nil {
		return b.configError(AdapterConstructor, "problem adaptation failed", err)
	}
	b.adapter = adapter

	return b.cacheMetadata(ctx, token)
}

func (b *InterpreterBridge) constructorParameters(ctx context.Context, token *AccessToken) ([]string, error) {
	fn, ok := b.module[ConstructorParametersFunc]
	if !ok {
		if len(b.config.Parameters) > 0 {
			b.logger.Warn("Module declares no constructor parameters, all parameters ignored",
				"function", ConstructorParametersFunc)
		}
		return nil, nil
	}
	v, err := token.Call(ctx, fn, starlark.Tuple{starlark.String(b.config.ClassName)}, nil)
	if err != nil {
		return nil, b.configError(ConstructorParametersFunc, "constructor parameter query failed", err)
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, b.configError(ConstructorParametersFunc, "expected a list of names, got "+v.Type(), nil)
	}
	var names []string
	iter := iterable.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		names = append(names, toText(elem))
	}
	return names, nil
}

func (b *InterpreterBridge) cacheMetadata(ctx context.Context, token *AccessToken) error {
	v, err := b.invoke(ctx, token, "get_dimension")
	if err != nil {
		return b.configError("get_dimension", "metadata query failed", err)
	}
	if b.dimension, err = toInt(v, "dimension"); err != nil {
		return b.configError("get_dimension", "metadata conversion failed", err)
	}

	if v, err = b.invoke(ctx, token, "get_lower_bounds"); err != nil {
		return b.configError("get_lower_bounds", "metadata query failed", err)
	}
	if b.lower, err = toFloats(v, "lower bounds"); err != nil {
		return b.configError("get_lower_bounds", "metadata conversion failed", err)
	}
	if v, err = b.invoke(ctx, token, "get_upper_bounds"); err != nil {
		return b.configError("get_upper_bounds", "metadata query failed", err)
	}
	if b.upper, err = toFloats(v, "upper bounds"); err != nil {
		return b.configError("get_upper_bounds", "metadata conversion failed", err)
	}
	if v, err = b.invoke(ctx, token, "get_discrete_params"); err != nil {
		return b.configError("get_discrete_params", "metadata query failed", err)
	}
	if b.discrete, err = toStringTable(v, "discrete params"); err != nil {
		return b.configError("get_discrete_params", "metadata conversion failed", err)
	}

	if b.dimension < 1 || len(b.discrete) > b.dimension {
		return b.configError("get_dimension",
			fmt.Sprintf("invalid layout: dimension %d with %d discrete coordinates", b.dimension, len(b.discrete)), nil)
	}
	continuous := b.dimension - len(b.discrete)
	if len(b.lower) != continuous || len(b.upper) != continuous {
		return b.configError("get_lower_bounds",
			fmt.Sprintf("bounds have %d/%d entries, want %d", len(b.lower), len(b.upper), continuous), nil)
	}
	return nil
}

func (b *InterpreterBridge) configError(resource, message string, cause error) error {
	if cause != nil {
		b.logger.Error("Script problem configuration failed",
			"resource", resource,
			"reason", message,
			"backtrace", scriptBacktrace(cause))
		return NewConfigurationError(resource, message, cause).
			WithContext("backtrace", scriptBacktrace(cause))
	}
	b.logger.Error("Script problem configuration failed", "resource", resource, "reason", message)
	return NewConfigurationError(resource, message, nil)
}

// invoke calls an adapter method. Must hold the access token.
func (b *InterpreterBridge) invoke(ctx context.Context, token *AccessToken, method string, args ...starlark.Value) (starlark.Value, error) {
	if b.adapter == nil {
		return nil, NewInterpreterFinalizedError(b.session.ID())
	}
	attrs, ok := b.adapter.(starlark.HasAttrs)
	if !ok {
		return nil, NewEvaluationError(method, fmt.Errorf("adapter of type %s has no methods", b.adapter.Type()))
	}
	fn, err := attrs.Attr(method)
	if err != nil || fn == nil {
		return nil, NewEvaluationError(method, fmt.Errorf("adapter has no method %s", method))
	}
	return token.Call(ctx, fn, starlark.Tuple(args), nil)
}

// withAccess runs fn under the access token and records statistics. Script
// failures become EvaluationError with the script backtrace attached.
func (b *InterpreterBridge) withAccess(ctx context.Context, method string, fn func(token *AccessToken) error) error {
	if b.closed.Load() {
		return NewInterpreterFinalizedError(b.session.ID())
	}
	token, err := b.session.Acquire(ctx)
	if err != nil {
		return err
	}
	defer token.Release()

	b.calls.Add(1)
	b.lastCallNano.Store(timecache.CachedTimeNano())
	if err := fn(token); err != nil {
		b.failures.Add(1)
		if errorCode(err) != "" {
			return err
		}
		backtrace := scriptBacktrace(err)
		b.logger.Error("Script evaluation failed", "method", method, "backtrace", backtrace)
		return NewEvaluationError(method, err).WithContext("backtrace", backtrace)
	}
	return nil
}

// ID returns the bridge identifier.
func (b *InterpreterBridge) ID() string {
	return b.id
}

// Dimension returns the cached total dimension.
func (b *InterpreterBridge) Dimension() int {
	return b.dimension
}

// ContinuousCount returns the number of continuous coordinates.
func (b *InterpreterBridge) ContinuousCount() int {
	return b.dimension - len(b.discrete)
}

// Bounds returns copies of the cached box constraints.
func (b *InterpreterBridge) Bounds() (lower, upper []float64) {
	return append([]float64(nil), b.lower...), append([]float64(nil), b.upper...)
}

// DiscreteDomains returns a copy of the cached discrete token table.
func (b *InterpreterBridge) DiscreteDomains() [][]string {
	out := make([][]string, len(b.discrete))
	for i, tokens := range b.discrete {
		out[i] = append([]string(nil), tokens...)
	}
	return out
}

func (b *InterpreterBridge) checkPoint(y []float64, u []string) error {
	if len(y) != b.ContinuousCount() {
		return NewInvalidPointError(b.ContinuousCount(), len(y), "continuous")
	}
	if len(u) != len(b.discrete) {
		return NewInvalidPointError(len(b.discrete), len(u), "discrete")
	}
	return nil
}

// EvaluateFunction computes functional index at (y, u) through the adapter's
// calculate((y, u, index)).
func (b *InterpreterBridge) EvaluateFunction(ctx context.Context, y []float64, u []string, index int) (float64, error) {
	if err := b.checkPoint(y, u); err != nil {
		return 0, err
	}
	var result float64
	err := b.withAccess(ctx, "calculate", func(token *AccessToken) error {
		arg := starlark.Tuple{floatList(y), stringList(u), starlark.MakeInt(index)}
		v, err := b.invoke(ctx, token, "calculate", arg)
		if err != nil {
			return err
		}
		result, err = toFloat(v, "calculate result")
		return err
	})
	return result, err
}

// EvaluateAllFunctions computes every functional at (y, u) through the
// adapter's calculate_all_functionals((y, u)).
func (b *InterpreterBridge) EvaluateAllFunctions(ctx context.Context, y []float64, u []string) ([]float64, error) {
	if err := b.checkPoint(y, u); err != nil {
		return nil, err
	}
	var result []float64
	err := b.withAccess(ctx, "calculate_all_functionals", func(token *AccessToken) error {
		arg := starlark.Tuple{floatList(y), stringList(u)}
		v, err := b.invoke(ctx, token, "calculate_all_functionals", arg)
		if err != nil {
			return err
		}
		result, err = toFloats(v, "calculate_all_functionals result")
		return err
	})
	return result, err
}

func (b *InterpreterBridge) count(ctx context.Context, method string) (int, error) {
	var n int
	err := b.withAccess(ctx, method, func(token *AccessToken) error {
		v, err := b.invoke(ctx, token, method)
		if err != nil {
			return err
		}
		n, err = toInt(v, method+" result")
		return err
	})
	return n, err
}

// NumberOfFunctions queries the adapter; failures are reported, never defaulted.
func (b *InterpreterBridge) NumberOfFunctions(ctx context.Context) (int, error) {
	return b.count(ctx, "get_number_of_functions")
}

// NumberOfConstraints queries the adapter.
func (b *InterpreterBridge) NumberOfConstraints(ctx context.Context) (int, error) {
	return b.count(ctx, "get_number_of_constraints")
}

// NumberOfCriterions queries the adapter.
func (b *InterpreterBridge) NumberOfCriterions(ctx context.Context) (int, error) {
	return b.count(ctx, "get_number_of_criterions")
}

// StartTrial reads the adapter's start point and its functional values.
// The discrete part is the first token of the only discrete domain; with
// more than one discrete coordinate the start point is ambiguous.
func (b *InterpreterBridge) StartTrial(ctx context.Context) (Trial, error) {
	var u []string
	switch len(b.discrete) {
	case 0:
	case 1:
		if len(b.discrete[0]) == 0 {
			return Trial{}, NewDiscreteValueError(b.ContinuousCount(), "")
		}
		u = []string{b.discrete[0][0]}
	default:
		return Trial{}, NewStartTrialAmbiguousError(len(b.discrete))
	}

	var trial Trial
	err := b.withAccess(ctx, "get_start_y", func(token *AccessToken) error {
		v, err := b.invoke(ctx, token, "get_start_y")
		if err != nil {
			return err
		}
		y, err := toFloats(v, "start point")
		if err != nil {
			return err
		}
		if len(y) != b.ContinuousCount() {
			return NewInvalidPointError(b.ContinuousCount(), len(y), "continuous")
		}
		v, err = b.invoke(ctx, token, "get_start_value", stringList(u))
		if err != nil {
			return err
		}
		values, err := toFloats(v, "start values")
		if err != nil {
			return err
		}
		trial = Trial{Point: Point{Continuous: y, Discrete: u}, Values: values}
		return nil
	})
	return trial, err
}

// Stats returns bridge call counters.
func (b *InterpreterBridge) Stats() BridgeStats {
	stats := BridgeStats{
		ID:       b.id,
		Calls:    b.calls.Load(),
		Failures: b.failures.Load(),
		Closed:   b.closed.Load(),
	}
	if nano := b.lastCallNano.Load(); nano > 0 {
		stats.LastCallAt = time.Unix(0, nano)
	}
	return stats
}

// Close drops the script objects and releases the session reference. It is
// idempotent; the last bridge to close finalizes the session.
func (b *InterpreterBridge) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if token, err := b.session.Acquire(context.Background()); err == nil {
			b.module, b.class, b.adapter = nil, nil, nil
			token.Release()
		} else {
			b.logger.Warn("Closing bridge without interpreter access", "error", err)
		}
		b.session.release(b.id)
		b.logger.Debug("Bridge closed")
	})
	return nil
}

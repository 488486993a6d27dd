// scripted_problem.go: Problem implementation forwarding to a script object through an interpreter bridge
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"math"
	"strconv"
)

// Reserved parameter keys of a scripted problem. Any other key is passed to
// the script constructor.
const (
	ParamKeyDimension  = "dimension"
	ParamKeySearchPath = "search_path"
	ParamKeyModuleName = "module_name"
	ParamKeyClassName  = "class_name"
)

// ScriptedProblem implements Problem for a problem object written in the
// embedded scripting language. It is configured through parameters, then
// Initialize builds the bridge. Every query before Initialize fails with
// NotInitialized.
//
// Example usage:
//
//	p := NewScriptedProblem(nil)
//	_ = p.SetParameter("search_path", "./problems")
//	_ = p.SetParameter("module_name", "rastrigin")
//	_ = p.SetParameter("class_name", "Rastrigin")
//	_ = p.SetDimension(3)
//	if err := p.Initialize(); err != nil {
//	    return err
//	}
//	defer p.Close()
type ScriptedProblem struct {
	session *InterpreterSession
	logger  any

	searchPath string
	moduleName string
	className  string
	dimension  int
	params     []NamedParam

	bridge *InterpreterBridge
}

// NewScriptedProblem creates an unconfigured scripted problem bound to
// session, or to ProcessSession when nil.
func NewScriptedProblem(session *InterpreterSession) *ScriptedProblem {
	if session == nil {
		session = ProcessSession()
	}
	return &ScriptedProblem{session: session}
}

// SetLogger sets the logger handed to the bridge.
func (p *ScriptedProblem) SetLogger(logger any) {
	p.logger = logger
}

// Bridge returns the bridge after Initialize, or nil.
func (p *ScriptedProblem) Bridge() *InterpreterBridge {
	return p.bridge
}

func (p *ScriptedProblem) requireConfigurable() error {
	if p.bridge != nil {
		return NewAlreadyInitializedError("scripted")
	}
	return nil
}

func (p *ScriptedProblem) requireInitialized(operation string) error {
	if p.bridge == nil {
		return NewNotInitializedError("scripted", operation)
	}
	return nil
}

// SetConfigPath sets the directory scripts are imported from.
func (p *ScriptedProblem) SetConfigPath(path string) error {
	if err := p.requireConfigurable(); err != nil {
		return err
	}
	p.searchPath = path
	return nil
}

// SetDimension requests a dimension; it is passed to the constructor as the
// "dimension" parameter unless one was set explicitly.
func (p *ScriptedProblem) SetDimension(dimension int) error {
	if err := p.requireConfigurable(); err != nil {
		return err
	}
	if dimension < 1 {
		return NewInvalidDimensionError(dimension, 1, math.MaxInt32)
	}
	p.dimension = dimension
	return nil
}

func (p *ScriptedProblem) GetDimension() int {
	if p.bridge != nil {
		return p.bridge.Dimension()
	}
	return p.dimension
}

// Initialize builds the bridge. It may be called once.
func (p *ScriptedProblem) Initialize() error {
	return p.InitializeContext(context.Background())
}

// InitializeContext is Initialize with a context bounding the wait for
// interpreter access and the construction scripts.
func (p *ScriptedProblem) InitializeContext(ctx context.Context) error {
	if err := p.requireConfigurable(); err != nil {
		return err
	}

	params := append([]NamedParam(nil), p.params...)
	if p.dimension > 0 && !hasNamedParam(params, ParamKeyDimension) {
		params = append(params, NamedParam{Name: ParamKeyDimension, Value: IntParam(int64(p.dimension))})
	}

	bridge, err := NewInterpreterBridge(ctx, BridgeConfig{
		SearchPath: p.searchPath,
		ModuleName: p.moduleName,
		ClassName:  p.className,
		Parameters: params,
		Session:    p.session,
		Logger:     p.logger,
	})
	if err != nil {
		return err
	}
	if p.dimension > 0 && bridge.Dimension() != p.dimension {
		NewLogger(p.logger).Warn("Script problem ignored requested dimension",
			"requested", p.dimension,
			"actual", bridge.Dimension())
	}
	p.bridge = bridge
	return nil
}

func (p *ScriptedProblem) GetBounds() ([]float64, []float64, error) {
	if err := p.requireInitialized("GetBounds"); err != nil {
		return nil, nil, err
	}
	lower, upper := p.bridge.Bounds()
	return lower, upper, nil
}

func (p *ScriptedProblem) GetOptimumValue() (float64, error) {
	if err := p.requireInitialized("GetOptimumValue"); err != nil {
		return 0, err
	}
	return 0, NewCapabilityUnsupportedError("GetOptimumValue")
}

func (p *ScriptedProblem) GetOptimumPoint() (Point, error) {
	if err := p.requireInitialized("GetOptimumPoint"); err != nil {
		return Point{}, err
	}
	return Point{}, NewCapabilityUnsupportedError("GetOptimumPoint")
}

func (p *ScriptedProblem) GetAllOptimumPoints() ([]Point, error) {
	if err := p.requireInitialized("GetAllOptimumPoints"); err != nil {
		return nil, err
	}
	return nil, NewCapabilityUnsupportedError("GetAllOptimumPoints")
}

func (p *ScriptedProblem) GetNumberOfFunctions() (int, error) {
	if err := p.requireInitialized("GetNumberOfFunctions"); err != nil {
		return 0, err
	}
	return p.bridge.NumberOfFunctions(context.Background())
}

func (p *ScriptedProblem) GetNumberOfConstraints() (int, error) {
	if err := p.requireInitialized("GetNumberOfConstraints"); err != nil {
		return 0, err
	}
	return p.bridge.NumberOfConstraints(context.Background())
}

func (p *ScriptedProblem) GetNumberOfCriterions() (int, error) {
	if err := p.requireInitialized("GetNumberOfCriterions"); err != nil {
		return 0, err
	}
	return p.bridge.NumberOfCriterions(context.Background())
}

func (p *ScriptedProblem) CalculateFunctionals(y []float64, u []string, fNumber int) (float64, error) {
	return p.CalculateFunctionalsContext(context.Background(), y, u, fNumber)
}

// CalculateFunctionalsContext evaluates one functional; ctx cancellation
// interrupts the wait for access and the running script.
func (p *ScriptedProblem) CalculateFunctionalsContext(ctx context.Context, y []float64, u []string, fNumber int) (float64, error) {
	if err := p.requireInitialized("CalculateFunctionals"); err != nil {
		return 0, err
	}
	return p.bridge.EvaluateFunction(ctx, y, u, fNumber)
}

func (p *ScriptedProblem) CalculateAllFunctionals(y []float64, u []string) ([]float64, error) {
	return p.CalculateAllFunctionalsContext(context.Background(), y, u)
}

// CalculateAllFunctionalsContext evaluates every functional in one script call.
func (p *ScriptedProblem) CalculateAllFunctionalsContext(ctx context.Context, y []float64, u []string) ([]float64, error) {
	if err := p.requireInitialized("CalculateAllFunctionals"); err != nil {
		return nil, err
	}
	return p.bridge.EvaluateAllFunctions(ctx, y, u)
}

func (p *ScriptedProblem) GetNumberOfDiscreteVariable() int {
	if p.bridge == nil {
		return 0
	}
	return len(p.bridge.discrete)
}

// SetNumberOfDiscreteVariable is declined: the script defines its layout.
func (p *ScriptedProblem) SetNumberOfDiscreteVariable(n int) error {
	return NewCapabilityUnsupportedError("SetNumberOfDiscreteVariable")
}

func (p *ScriptedProblem) GetNumberOfContinuousVariable() int {
	if p.bridge == nil {
		return p.dimension
	}
	return p.bridge.ContinuousCount()
}

func (p *ScriptedProblem) GetDiscreteVariableValues() ([][]string, error) {
	if err := p.requireInitialized("GetDiscreteVariableValues"); err != nil {
		return nil, err
	}
	return p.bridge.DiscreteDomains(), nil
}

func (p *ScriptedProblem) GetStartTrial() (Trial, error) {
	if err := p.requireInitialized("GetStartTrial"); err != nil {
		return Trial{}, err
	}
	return p.bridge.StartTrial(context.Background())
}

// SetParameter handles the reserved keys and records every other key as a
// constructor parameter, parsed as int, float or string.
func (p *ScriptedProblem) SetParameter(name, value string) error {
	if err := p.requireConfigurable(); err != nil {
		return err
	}
	switch name {
	case ParamKeyDimension:
		d, err := strconv.Atoi(value)
		if err != nil {
			return NewInvalidParameterError(name, value, err)
		}
		return p.SetDimension(d)
	case ParamKeySearchPath:
		p.searchPath = value
	case ParamKeyModuleName:
		p.moduleName = value
	case ParamKeyClassName:
		p.className = value
	case "":
		return NewInvalidParameterError(name, value, nil)
	default:
		p.setNamedParam(NamedParam{Name: name, Value: ParseParamValue(value)})
	}
	return nil
}

// SetConstructorParameter records a typed constructor parameter.
func (p *ScriptedProblem) SetConstructorParameter(name string, value ParamValue) error {
	if err := p.requireConfigurable(); err != nil {
		return err
	}
	p.setNamedParam(NamedParam{Name: name, Value: value})
	return nil
}

func (p *ScriptedProblem) setNamedParam(param NamedParam) {
	for i := range p.params {
		if p.params[i].Name == param.Name {
			p.params[i] = param
			return
		}
	}
	p.params = append(p.params, param)
}

func (p *ScriptedProblem) GetParameters() []Parameter {
	out := make([]Parameter, 0, len(p.params)+4)
	if d := p.GetDimension(); d > 0 {
		out = append(out, Parameter{Name: ParamKeyDimension, Value: strconv.Itoa(d)})
	}
	for _, kv := range [][2]string{
		{ParamKeySearchPath, p.searchPath},
		{ParamKeyModuleName, p.moduleName},
		{ParamKeyClassName, p.className},
	} {
		if kv[1] != "" {
			out = append(out, Parameter{Name: kv[0], Value: kv[1]})
		}
	}
	for _, np := range p.params {
		out = append(out, Parameter{Name: np.Name, Value: np.Value.String()})
	}
	return out
}

// Close tears down the bridge; the last bridge of the session finalizes it.
func (p *ScriptedProblem) Close() error {
	if p.bridge == nil {
		return nil
	}
	return p.bridge.Close()
}

func hasNamedParam(params []NamedParam, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// problem.go: The problem capability contract shared by native, scripted and remote problems
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"strconv"

	"golang.org/x/exp/constraints"
)

// Result codes reported on the wire and by the command-line tool. They mirror
// the integer sentinels problem modules historically returned.
const (
	ResultOK                 = 0
	ResultUndefined          = -1
	ResultError              = -2
	ResultErrorDiscreteValue = -201
)

// Problem is the capability set a host optimizer sees. Continuous coordinates
// come first, the discrete ones (if any) are the trailing coordinates.
//
// Operations a problem does not support return an error carrying
// ErrCodeCapabilityUnsupported. Use IsUnsupported to test for it.
type Problem interface {
	SetConfigPath(path string) error
	SetDimension(dimension int) error
	GetDimension() int
	Initialize() error

	// GetBounds returns box constraints for the continuous coordinates only.
	GetBounds() (lower, upper []float64, err error)

	GetOptimumValue() (float64, error)
	GetOptimumPoint() (Point, error)
	GetAllOptimumPoints() ([]Point, error)

	// Functionals are numbered constraints first, criteria after.
	GetNumberOfFunctions() (int, error)
	GetNumberOfConstraints() (int, error)
	GetNumberOfCriterions() (int, error)

	CalculateFunctionals(y []float64, u []string, fNumber int) (float64, error)
	CalculateAllFunctionals(y []float64, u []string) ([]float64, error)

	GetNumberOfDiscreteVariable() int
	SetNumberOfDiscreteVariable(n int) error
	GetNumberOfContinuousVariable() int
	GetDiscreteVariableValues() ([][]string, error)

	GetStartTrial() (Trial, error)

	SetParameter(name, value string) error
	GetParameters() []Parameter
}

// Point is a location in the search space.
type Point struct {
	Continuous []float64 `json:"continuous" yaml:"continuous"`
	Discrete   []string  `json:"discrete,omitempty" yaml:"discrete,omitempty"`
}

// Clone returns a deep copy of p.
func (p Point) Clone() Point {
	return Point{
		Continuous: append([]float64(nil), p.Continuous...),
		Discrete:   append([]string(nil), p.Discrete...),
	}
}

// Trial is a point together with its functional values.
type Trial struct {
	Point
	Values []float64 `json:"values" yaml:"values"`
}

// Parameter is a named, textual problem setting.
type Parameter struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// IsUnsupported reports whether err signals a declined optional operation.
func IsUnsupported(err error) bool {
	return HasErrorCode(err, ErrCodeCapabilityUnsupported)
}

// ResultCodeOf maps an error returned by a Problem to its result code.
func ResultCodeOf(err error) int {
	switch {
	case err == nil:
		return ResultOK
	case IsUnsupported(err):
		return ResultUndefined
	case HasErrorCode(err, ErrCodeDiscreteValue), HasErrorCode(err, ErrCodeStartTrialAmbiguous):
		return ResultErrorDiscreteValue
	default:
		return ResultError
	}
}

func inRange[T constraints.Ordered](v, lo, hi T) bool {
	return v >= lo && v <= hi
}

// CalculateAll evaluates every functional at (y, u) with one call per index.
func CalculateAll(p Problem, y []float64, u []string) ([]float64, error) {
	n, err := p.GetNumberOfFunctions()
	if err != nil {
		return nil, err
	}
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		if values[i], err = p.CalculateFunctionals(y, u, i); err != nil {
			return nil, err
		}
	}
	return values, nil
}

// CalculateBatch evaluates functional fNumber at each point.
func CalculateBatch(p Problem, points []Point, fNumber int) ([]float64, error) {
	values := make([]float64, len(points))
	for i, pt := range points {
		v, err := p.CalculateFunctionals(pt.Continuous, pt.Discrete, fNumber)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// ProblemInfo is a snapshot of the metadata of an initialized problem.
// Optional fields are left empty when the problem declines them.
type ProblemInfo struct {
	Dimension      int         `json:"dimension" yaml:"dimension"`
	Continuous     int         `json:"continuous" yaml:"continuous"`
	Discrete       int         `json:"discrete" yaml:"discrete"`
	Lower          []float64   `json:"lower" yaml:"lower"`
	Upper          []float64   `json:"upper" yaml:"upper"`
	Functions      int         `json:"functions" yaml:"functions"`
	Constraints    int         `json:"constraints" yaml:"constraints"`
	Criterions     int         `json:"criterions" yaml:"criterions"`
	DiscreteValues [][]string  `json:"discrete_values,omitempty" yaml:"discrete_values,omitempty"`
	OptimumValue   *float64    `json:"optimum_value,omitempty" yaml:"optimum_value,omitempty"`
	OptimumPoint   *Point      `json:"optimum_point,omitempty" yaml:"optimum_point,omitempty"`
	Parameters     []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Describe collects ProblemInfo from p. Unsupported optional operations are
// skipped; any other error aborts.
func Describe(p Problem) (ProblemInfo, error) {
	info := ProblemInfo{
		Dimension:  p.GetDimension(),
		Continuous: p.GetNumberOfContinuousVariable(),
		Discrete:   p.GetNumberOfDiscreteVariable(),
		Parameters: p.GetParameters(),
	}

	var err error
	if info.Lower, info.Upper, err = p.GetBounds(); err != nil {
		return info, err
	}
	if info.Functions, err = p.GetNumberOfFunctions(); err != nil {
		return info, err
	}
	if info.Constraints, err = p.GetNumberOfConstraints(); err != nil {
		return info, err
	}
	if info.Criterions, err = p.GetNumberOfCriterions(); err != nil {
		return info, err
	}

	if info.Discrete > 0 {
		if info.DiscreteValues, err = p.GetDiscreteVariableValues(); err != nil && !IsUnsupported(err) {
			return info, err
		}
	}
	if v, err := p.GetOptimumValue(); err == nil {
		info.OptimumValue = &v
	} else if !IsUnsupported(err) {
		return info, err
	}
	if pt, err := p.GetOptimumPoint(); err == nil {
		info.OptimumPoint = &pt
	} else if !IsUnsupported(err) {
		return info, err
	}
	return info, nil
}

// ProblemBase provides the bookkeeping shared by concrete problems:
// dimension range, discrete count, one-shot initialization and a registry of
// named parameters. Every other operation declines with
// CapabilityUnsupported; embedders override what they support.
type ProblemBase struct {
	Name         string
	MinDimension int
	MaxDimension int

	dimension     int
	discreteCount int
	initialized   bool
	parameters    []Parameter
	setters       map[string]func(string) error
}

// NewProblemBase returns a base for a problem whose dimension lies in
// [minDim, maxDim], starting at defaultDim.
func NewProblemBase(name string, minDim, maxDim, defaultDim int) ProblemBase {
	return ProblemBase{
		Name:         name,
		MinDimension: minDim,
		MaxDimension: maxDim,
		dimension:    defaultDim,
	}
}

// RegisterParameter declares a settable parameter with its initial value.
// apply validates and stores a new value.
func (b *ProblemBase) RegisterParameter(name, initial string, apply func(string) error) {
	if b.setters == nil {
		b.setters = make(map[string]func(string) error)
	}
	if _, exists := b.setters[name]; !exists {
		b.parameters = append(b.parameters, Parameter{Name: name, Value: initial})
	}
	b.setters[name] = apply
}

func (b *ProblemBase) SetConfigPath(path string) error {
	return NewCapabilityUnsupportedError("SetConfigPath")
}

func (b *ProblemBase) SetDimension(dimension int) error {
	if b.initialized {
		return NewAlreadyInitializedError(b.Name)
	}
	if !inRange(dimension, b.MinDimension, b.MaxDimension) || dimension < b.discreteCount {
		return NewInvalidDimensionError(dimension, b.MinDimension, b.MaxDimension)
	}
	b.dimension = dimension
	return nil
}

func (b *ProblemBase) GetDimension() int {
	return b.dimension
}

// Initialize marks the problem ready. Embedders call it first from their own
// Initialize and stop on error.
func (b *ProblemBase) Initialize() error {
	if b.initialized {
		return NewAlreadyInitializedError(b.Name)
	}
	b.initialized = true
	return nil
}

// IsInitialized reports whether Initialize succeeded.
func (b *ProblemBase) IsInitialized() bool {
	return b.initialized
}

// RequireInitialized returns NotInitialized until Initialize succeeded.
func (b *ProblemBase) RequireInitialized(operation string) error {
	if !b.initialized {
		return NewNotInitializedError(b.Name, operation)
	}
	return nil
}

// ValidatePoint checks the coordinate counts of (y, u) against the layout.
func (b *ProblemBase) ValidatePoint(y []float64, u []string) error {
	if len(y) != b.GetNumberOfContinuousVariable() {
		return NewInvalidPointError(b.GetNumberOfContinuousVariable(), len(y), "continuous")
	}
	if len(u) != b.discreteCount {
		return NewInvalidPointError(b.discreteCount, len(u), "discrete")
	}
	return nil
}

// ValidateFunctionIndex checks 0 <= index < functions.
func (b *ProblemBase) ValidateFunctionIndex(index, functions int) error {
	if !inRange(index, 0, functions-1) {
		return NewInvalidFunctionIndexError(index, functions)
	}
	return nil
}

func (b *ProblemBase) GetBounds() ([]float64, []float64, error) {
	return nil, nil, NewCapabilityUnsupportedError("GetBounds")
}

func (b *ProblemBase) GetOptimumValue() (float64, error) {
	return 0, NewCapabilityUnsupportedError("GetOptimumValue")
}

func (b *ProblemBase) GetOptimumPoint() (Point, error) {
	return Point{}, NewCapabilityUnsupportedError("GetOptimumPoint")
}

func (b *ProblemBase) GetAllOptimumPoints() ([]Point, error) {
	return nil, NewCapabilityUnsupportedError("GetAllOptimumPoints")
}

func (b *ProblemBase) GetNumberOfFunctions() (int, error) {
	return 0, NewCapabilityUnsupportedError("GetNumberOfFunctions")
}

func (b *ProblemBase) GetNumberOfConstraints() (int, error) {
	return 0, NewCapabilityUnsupportedError("GetNumberOfConstraints")
}

func (b *ProblemBase) GetNumberOfCriterions() (int, error) {
	return 0, NewCapabilityUnsupportedError("GetNumberOfCriterions")
}

func (b *ProblemBase) CalculateFunctionals(y []float64, u []string, fNumber int) (float64, error) {
	return 0, NewCapabilityUnsupportedError("CalculateFunctionals")
}

func (b *ProblemBase) CalculateAllFunctionals(y []float64, u []string) ([]float64, error) {
	return nil, NewCapabilityUnsupportedError("CalculateAllFunctionals")
}

func (b *ProblemBase) GetNumberOfDiscreteVariable() int {
	return b.discreteCount
}

func (b *ProblemBase) SetNumberOfDiscreteVariable(n int) error {
	return NewCapabilityUnsupportedError("SetNumberOfDiscreteVariable")
}

// SetDiscreteCount stores n after range-checking it against the dimension.
// Mixed problems use it to implement SetNumberOfDiscreteVariable.
func (b *ProblemBase) SetDiscreteCount(n int) error {
	if b.initialized {
		return NewAlreadyInitializedError(b.Name)
	}
	if !inRange(n, 0, b.dimension) {
		return NewInvalidParameterError("discrete_count", strconv.Itoa(n), nil)
	}
	b.discreteCount = n
	return nil
}

func (b *ProblemBase) GetNumberOfContinuousVariable() int {
	return b.dimension - b.discreteCount
}

func (b *ProblemBase) GetDiscreteVariableValues() ([][]string, error) {
	return nil, NewCapabilityUnsupportedError("GetDiscreteVariableValues")
}

func (b *ProblemBase) GetStartTrial() (Trial, error) {
	return Trial{}, NewCapabilityUnsupportedError("GetStartTrial")
}

// SetParameter applies a registered parameter. Unknown names are declined.
func (b *ProblemBase) SetParameter(name, value string) error {
	apply, ok := b.setters[name]
	if !ok {
		return NewCapabilityUnsupportedError("SetParameter:" + name)
	}
	if err := apply(value); err != nil {
		return err
	}
	for i := range b.parameters {
		if b.parameters[i].Name == name {
			b.parameters[i].Value = value
		}
	}
	return nil
}

func (b *ProblemBase) GetParameters() []Parameter {
	return append([]Parameter(nil), b.parameters...)
}

// benchmarks.go: Native benchmark problems served by the builtin module registry
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"math"
	"strconv"
)

// Rastrigin is the multi-extremal test function
// f(x) = sum(x_i^2 - 10 cos(2 pi x_i) + 10) on [-2.2, 1.8]^d.
type Rastrigin struct {
	ProblemBase
	LeftBorder  float64
	RightBorder float64
}

// NewRastrigin returns a 2-dimensional Rastrigin problem (dimension 1..100).
func NewRastrigin() *Rastrigin {
	return &Rastrigin{
		ProblemBase: NewProblemBase("rastrigin", 1, 100, 2),
		LeftBorder:  -2.2,
		RightBorder: 1.8,
	}
}

// RastriginValue evaluates the Rastrigin sum at y.
func RastriginValue(y []float64) float64 {
	sum := 0.0
	for _, x := range y {
		sum += x*x - 10*math.Cos(2*math.Pi*x) + 10
	}
	return sum
}

func (r *Rastrigin) GetBounds() ([]float64, []float64, error) {
	if err := r.RequireInitialized("GetBounds"); err != nil {
		return nil, nil, err
	}
	return uniformBounds(r.GetNumberOfContinuousVariable(), r.LeftBorder, r.RightBorder)
}

func (r *Rastrigin) GetOptimumValue() (float64, error) {
	if err := r.RequireInitialized("GetOptimumValue"); err != nil {
		return 0, err
	}
	return 0, nil
}

func (r *Rastrigin) GetOptimumPoint() (Point, error) {
	if err := r.RequireInitialized("GetOptimumPoint"); err != nil {
		return Point{}, err
	}
	return Point{Continuous: make([]float64, r.GetDimension())}, nil
}

func (r *Rastrigin) GetAllOptimumPoints() ([]Point, error) {
	pt, err := r.GetOptimumPoint()
	if err != nil {
		return nil, err
	}
	return []Point{pt}, nil
}

func (r *Rastrigin) GetNumberOfFunctions() (int, error)   { return 1, nil }
func (r *Rastrigin) GetNumberOfConstraints() (int, error) { return 0, nil }
func (r *Rastrigin) GetNumberOfCriterions() (int, error)  { return 1, nil }

func (r *Rastrigin) CalculateFunctionals(y []float64, u []string, fNumber int) (float64, error) {
	if err := r.checkCall(y, u, fNumber, 1); err != nil {
		return 0, err
	}
	return RastriginValue(y), nil
}

func (r *Rastrigin) CalculateAllFunctionals(y []float64, u []string) ([]float64, error) {
	return CalculateAll(r, y, u)
}

// X2 is the sum of squares on [-1, 1]^d.
type X2 struct {
	ProblemBase
}

// NewX2 returns a 2-dimensional sum-of-squares problem (dimension 1..100).
func NewX2() *X2 {
	return &X2{ProblemBase: NewProblemBase("x2", 1, 100, 2)}
}

func (p *X2) GetBounds() ([]float64, []float64, error) {
	if err := p.RequireInitialized("GetBounds"); err != nil {
		return nil, nil, err
	}
	return uniformBounds(p.GetNumberOfContinuousVariable(), -1, 1)
}

func (p *X2) GetOptimumValue() (float64, error) {
	if err := p.RequireInitialized("GetOptimumValue"); err != nil {
		return 0, err
	}
	return 0, nil
}

func (p *X2) GetOptimumPoint() (Point, error) {
	if err := p.RequireInitialized("GetOptimumPoint"); err != nil {
		return Point{}, err
	}
	return Point{Continuous: make([]float64, p.GetDimension())}, nil
}

func (p *X2) GetNumberOfFunctions() (int, error)   { return 1, nil }
func (p *X2) GetNumberOfConstraints() (int, error) { return 0, nil }
func (p *X2) GetNumberOfCriterions() (int, error)  { return 1, nil }

func (p *X2) CalculateFunctionals(y []float64, u []string, fNumber int) (float64, error) {
	if err := p.checkCall(y, u, fNumber, 1); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, x := range y {
		sum += x * x
	}
	return sum, nil
}

func (p *X2) CalculateAllFunctionals(y []float64, u []string) ([]float64, error) {
	return CalculateAll(p, y, u)
}

// StronginC3 is a two-dimensional problem with three nonlinear constraints
// (functionals 0..2) and one criterion (functional 3).
type StronginC3 struct {
	ProblemBase
}

// NewStronginC3 returns the fixed-dimension StronginC3 problem.
func NewStronginC3() *StronginC3 {
	return &StronginC3{ProblemBase: NewProblemBase("stronginc3", 2, 2, 2)}
}

func (p *StronginC3) GetBounds() ([]float64, []float64, error) {
	if err := p.RequireInitialized("GetBounds"); err != nil {
		return nil, nil, err
	}
	return []float64{0, -1}, []float64{4, 3}, nil
}

func (p *StronginC3) GetOptimumValue() (float64, error) {
	if err := p.RequireInitialized("GetOptimumValue"); err != nil {
		return 0, err
	}
	return -1.489444, nil
}

func (p *StronginC3) GetOptimumPoint() (Point, error) {
	if err := p.RequireInitialized("GetOptimumPoint"); err != nil {
		return Point{}, err
	}
	return Point{Continuous: []float64{0.941176, 0.941176}}, nil
}

func (p *StronginC3) GetNumberOfFunctions() (int, error)   { return 4, nil }
func (p *StronginC3) GetNumberOfConstraints() (int, error) { return 3, nil }
func (p *StronginC3) GetNumberOfCriterions() (int, error)  { return 1, nil }

func (p *StronginC3) CalculateFunctionals(y []float64, u []string, fNumber int) (float64, error) {
	if err := p.checkCall(y, u, fNumber, 4); err != nil {
		return 0, err
	}
	x1, x2 := y[0], y[1]
	switch fNumber {
	case 0:
		return 0.01 * ((x1-2.2)*(x1-2.2) + (x2-1.2)*(x2-1.2) - 2.25), nil
	case 1:
		a := (x1 - 2.0) / 1.2
		b := x2 / 2.0
		return 100.0 * (1.0 - a*a - b*b), nil
	case 2:
		return 10.0 * (x2 - 1.5 - 1.5*math.Sin(6.283*(x1-1.75))), nil
	default:
		t1 := math.Pow(0.5*x1-0.5, 4)
		t2 := math.Pow(x2-1.0, 4)
		res := 1.5 * x1 * x1 * math.Exp(1.0-x1*x1-20.25*(x1-x2)*(x1-x2))
		res += t1 * t2 * math.Exp(2.0-t1-t2)
		return -res, nil
	}
}

func (p *StronginC3) CalculateAllFunctionals(y []float64, u []string) ([]float64, error) {
	return CalculateAll(p, y, u)
}

// RastriginInt is a mixed-integer Rastrigin variant. The trailing coordinates
// are discrete with tokens "A" and "B" standing for the left and right border.
// The criterion is the continuous Rastrigin sum reduced by each discrete
// value, scaled by a quadratic multiplier that peaks at the optimum.
type RastriginInt struct {
	ProblemBase
	LeftBorder  float64
	RightBorder float64

	multKoef float64
}

// RastriginInt discrete tokens.
const (
	TokenLeftBorder  = "A"
	TokenRightBorder = "B"
)

// NewRastriginInt returns a 2-dimensional problem with one discrete coordinate.
func NewRastriginInt() *RastriginInt {
	p := &RastriginInt{
		ProblemBase: NewProblemBase("rastrigin_int", 2, 100, 2),
		LeftBorder:  -2.2,
		RightBorder: 1.8,
	}
	_ = p.SetDiscreteCount(1)
	p.RegisterParameter("discrete_count", "1", func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return NewInvalidParameterError("discrete_count", v, err)
		}
		return p.SetNumberOfDiscreteVariable(n)
	})
	return p
}

func (p *RastriginInt) SetNumberOfDiscreteVariable(n int) error {
	return p.SetDiscreteCount(n)
}

// Initialize fixes the layout and computes the multiplier offset: the
// largest |MultFunc| over the corners of the box, plus 4.
func (p *RastriginInt) Initialize() error {
	if err := p.ProblemBase.Initialize(); err != nil {
		return err
	}
	half := (p.RightBorder - p.LeftBorder) / 2
	maxAbs := 0.0
	for j := 0; j < p.GetDimension(); j++ {
		opt := p.optimumCoordinate(j)
		a := (p.LeftBorder - opt) / half
		b := (p.RightBorder - opt) / half
		maxAbs += math.Max(a*a, b*b)
	}
	p.multKoef = maxAbs + 4
	return nil
}

func (p *RastriginInt) optimumCoordinate(j int) float64 {
	if j >= p.GetNumberOfContinuousVariable() {
		return p.RightBorder
	}
	return 0
}

func (p *RastriginInt) decode(coordinate int, token string) (float64, error) {
	switch token {
	case TokenLeftBorder:
		return p.LeftBorder, nil
	case TokenRightBorder:
		return p.RightBorder, nil
	default:
		return 0, NewDiscreteValueError(coordinate, token)
	}
}

func (p *RastriginInt) multFunc(x []float64) float64 {
	half := (p.RightBorder - p.LeftBorder) / 2
	res := 0.0
	for j, v := range x {
		a := (v - p.optimumCoordinate(j)) / half
		res += a * a
	}
	return -res
}

func (p *RastriginInt) GetBounds() ([]float64, []float64, error) {
	if err := p.RequireInitialized("GetBounds"); err != nil {
		return nil, nil, err
	}
	return uniformBounds(p.GetNumberOfContinuousVariable(), p.LeftBorder, p.RightBorder)
}

func (p *RastriginInt) GetDiscreteVariableValues() ([][]string, error) {
	if err := p.RequireInitialized("GetDiscreteVariableValues"); err != nil {
		return nil, err
	}
	values := make([][]string, p.GetNumberOfDiscreteVariable())
	for i := range values {
		values[i] = []string{TokenLeftBorder, TokenRightBorder}
	}
	return values, nil
}

func (p *RastriginInt) GetOptimumValue() (float64, error) {
	if err := p.RequireInitialized("GetOptimumValue"); err != nil {
		return 0, err
	}
	return -float64(p.GetNumberOfDiscreteVariable()) * p.RightBorder * p.multKoef, nil
}

func (p *RastriginInt) GetOptimumPoint() (Point, error) {
	if err := p.RequireInitialized("GetOptimumPoint"); err != nil {
		return Point{}, err
	}
	pt := Point{
		Continuous: make([]float64, p.GetNumberOfContinuousVariable()),
		Discrete:   make([]string, p.GetNumberOfDiscreteVariable()),
	}
	for i := range pt.Discrete {
		pt.Discrete[i] = TokenRightBorder
	}
	return pt, nil
}

func (p *RastriginInt) GetNumberOfFunctions() (int, error)   { return 1, nil }
func (p *RastriginInt) GetNumberOfConstraints() (int, error) { return 0, nil }
func (p *RastriginInt) GetNumberOfCriterions() (int, error)  { return 1, nil }

func (p *RastriginInt) CalculateFunctionals(y []float64, u []string, fNumber int) (float64, error) {
	if err := p.checkCall(y, u, fNumber, 1); err != nil {
		return 0, err
	}
	x := make([]float64, 0, len(y)+len(u))
	x = append(x, y...)
	sum := RastriginValue(y)
	for i, token := range u {
		v, err := p.decode(len(y)+i, token)
		if err != nil {
			return 0, err
		}
		sum -= v
		x = append(x, v)
	}
	return sum * (p.multFunc(x) + p.multKoef), nil
}

func (p *RastriginInt) CalculateAllFunctionals(y []float64, u []string) ([]float64, error) {
	return CalculateAll(p, y, u)
}

// GetStartTrial starts from the centre of the continuous box with every
// discrete coordinate at its first token.
func (p *RastriginInt) GetStartTrial() (Trial, error) {
	if err := p.RequireInitialized("GetStartTrial"); err != nil {
		return Trial{}, err
	}
	pt := Point{
		Continuous: make([]float64, p.GetNumberOfContinuousVariable()),
		Discrete:   make([]string, p.GetNumberOfDiscreteVariable()),
	}
	for i := range pt.Continuous {
		pt.Continuous[i] = (p.LeftBorder + p.RightBorder) / 2
	}
	for i := range pt.Discrete {
		pt.Discrete[i] = TokenLeftBorder
	}
	values, err := p.CalculateAllFunctionals(pt.Continuous, pt.Discrete)
	if err != nil {
		return Trial{}, err
	}
	return Trial{Point: pt, Values: values}, nil
}

// checkCall validates state, layout and functional index before evaluation.
func (b *ProblemBase) checkCall(y []float64, u []string, fNumber, functions int) error {
	if err := b.RequireInitialized("CalculateFunctionals"); err != nil {
		return err
	}
	if err := b.ValidatePoint(y, u); err != nil {
		return err
	}
	return b.ValidateFunctionIndex(fNumber, functions)
}

func uniformBounds(n int, lo, hi float64) ([]float64, []float64, error) {
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := range lower {
		lower[i] = lo
		upper[i] = hi
	}
	return lower, upper, nil
}

// destroyProblem is the destructor shared by builtin modules: problems
// holding resources expose Close.
func destroyProblem(p Problem) {
	if closer, ok := p.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// benchmarks_test.go: tests for the native benchmark problems
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initialized(t *testing.T, p Problem, dimension int) Problem {
	t.Helper()
	if dimension > 0 {
		require.NoError(t, p.SetDimension(dimension))
	}
	require.NoError(t, p.Initialize())
	return p
}

func TestBenchmarks_AllFunctionalsMatchSingleCalls(t *testing.T) {
	tests := []struct {
		name    string
		problem Problem
		dim     int
		y       []float64
		u       []string
	}{
		{"Rastrigin", NewRastrigin(), 3, []float64{0.3, -1.1, 1.7}, nil},
		{"X2", NewX2(), 2, []float64{0.4, -0.9}, nil},
		{"StronginC3", NewStronginC3(), 0, []float64{1.5, 0.7}, nil},
		{"RastriginInt", NewRastriginInt(), 3, []float64{0.2, -0.4}, []string{TokenRightBorder}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := initialized(t, tt.problem, tt.dim)
			n, err := p.GetNumberOfFunctions()
			require.NoError(t, err)
			constraints, err := p.GetNumberOfConstraints()
			require.NoError(t, err)
			criterions, err := p.GetNumberOfCriterions()
			require.NoError(t, err)
			assert.Equal(t, constraints+criterions, n)

			all, err := p.CalculateAllFunctionals(tt.y, tt.u)
			require.NoError(t, err)
			require.Len(t, all, n)
			for i := 0; i < n; i++ {
				v, err := p.CalculateFunctionals(tt.y, tt.u, i)
				require.NoError(t, err)
				assert.Equal(t, v, all[i], "functional %d", i)
			}

			_, err = p.CalculateFunctionals(tt.y, tt.u, n)
			assert.True(t, HasErrorCode(err, ErrCodeInvalidFunctionIndex))
		})
	}
}

func TestBenchmarks_BoundsCoverContinuousCoordinates(t *testing.T) {
	for dim := 2; dim <= 6; dim++ {
		for _, p := range []Problem{NewRastrigin(), NewX2(), NewRastriginInt()} {
			initialized(t, p, dim)
			lower, upper, err := p.GetBounds()
			require.NoError(t, err)
			assert.Len(t, lower, p.GetNumberOfContinuousVariable())
			assert.Len(t, upper, p.GetNumberOfContinuousVariable())
			for i := range lower {
				assert.Less(t, lower[i], upper[i])
			}
		}
	}
}

func TestBenchmarks_NotInitialized(t *testing.T) {
	for _, p := range []Problem{NewRastrigin(), NewX2(), NewStronginC3(), NewRastriginInt()} {
		_, _, err := p.GetBounds()
		assert.True(t, HasErrorCode(err, ErrCodeNotInitialized))
		_, err = p.CalculateFunctionals([]float64{0, 0}, nil, 0)
		assert.True(t, HasErrorCode(err, ErrCodeNotInitialized))
	}
}

func TestRastrigin_Optimum(t *testing.T) {
	p := initialized(t, NewRastrigin(), 4)

	opt, err := p.GetOptimumPoint()
	require.NoError(t, err)
	value, err := p.GetOptimumValue()
	require.NoError(t, err)
	got, err := p.CalculateFunctionals(opt.Continuous, nil, 0)
	require.NoError(t, err)
	assert.InDelta(t, value, got, 1e-12)

	all, err := p.GetAllOptimumPoints()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.True(t, HasErrorCode(NewRastrigin().SetDimension(101), ErrCodeInvalidDimension))
}

func TestStronginC3_Optimum(t *testing.T) {
	p := initialized(t, NewStronginC3(), 0)
	assert.True(t, HasErrorCode(NewStronginC3().SetDimension(3), ErrCodeInvalidDimension))

	opt, err := p.GetOptimumPoint()
	require.NoError(t, err)
	want, err := p.GetOptimumValue()
	require.NoError(t, err)

	values, err := p.CalculateAllFunctionals(opt.Continuous, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.LessOrEqual(t, values[i], 1e-3, "constraint %d must hold at the optimum", i)
	}
	assert.InDelta(t, want, values[3], 1e-4)
}

func TestRastriginInt_Optimum(t *testing.T) {
	p := NewRastriginInt()
	require.NoError(t, p.SetDimension(4))
	require.NoError(t, p.SetParameter("discrete_count", "2"))
	require.NoError(t, p.Initialize())

	assert.Equal(t, 2, p.GetNumberOfContinuousVariable())
	opt, err := p.GetOptimumPoint()
	require.NoError(t, err)
	assert.Equal(t, []string{TokenRightBorder, TokenRightBorder}, opt.Discrete)

	want, err := p.GetOptimumValue()
	require.NoError(t, err)
	got, err := p.CalculateFunctionals(opt.Continuous, opt.Discrete, 0)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)
	assert.Less(t, want, 0.0)

	// Any other discrete assignment at the continuous optimum is worse.
	for _, u := range [][]string{{"A", "A"}, {"A", "B"}, {"B", "A"}} {
		v, err := p.CalculateFunctionals(opt.Continuous, u, 0)
		require.NoError(t, err)
		assert.Greater(t, v, want, "assignment %v", u)
	}

	_, err = p.CalculateFunctionals(opt.Continuous, []string{"B", "C"}, 0)
	require.Error(t, err)
	assert.Equal(t, ResultErrorDiscreteValue, ResultCodeOf(err))
}

func TestRastriginInt_StartTrialAndDomains(t *testing.T) {
	p := initialized(t, NewRastriginInt(), 3)

	domains, err := p.GetDiscreteVariableValues()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{TokenLeftBorder, TokenRightBorder}}, domains)

	trial, err := p.GetStartTrial()
	require.NoError(t, err)
	assert.Len(t, trial.Continuous, 2)
	assert.Equal(t, []string{TokenLeftBorder}, trial.Discrete)
	require.Len(t, trial.Values, 1)
	assert.False(t, math.IsNaN(trial.Values[0]))

	assert.True(t, HasErrorCode(p.SetParameter("discrete_count", "1"), ErrCodeAlreadyInitialized))
	assert.True(t, HasErrorCode(NewRastriginInt().SetParameter("discrete_count", "x"), ErrCodeInvalidParameter))
}

// solve.go: The solve command, a mayfly run over the loaded problem
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	globalizer "github.com/agilira/go-globalizer"
	"github.com/cwbudde/mayfly"
	"github.com/spf13/cobra"
)

// invalidCost is the objective value of points the problem rejects.
const invalidCost = 1e100

type solveOutput struct {
	Best         globalizer.Point `json:"best" yaml:"best"`
	Objective    float64          `json:"objective" yaml:"objective"`
	Feasible     bool             `json:"feasible" yaml:"feasible"`
	KnownOptimum *float64         `json:"known_optimum,omitempty" yaml:"known_optimum,omitempty"`
	Evaluations  int64            `json:"evaluations" yaml:"evaluations"`
	Elapsed      string           `json:"elapsed" yaml:"elapsed"`
}

// searchSpace maps the unit cube mayfly searches onto the problem's
// continuous box and discrete value lists.
type searchSpace struct {
	lower, upper []float64
	discrete     [][]string
}

func newSearchSpace(problem globalizer.Problem) (*searchSpace, error) {
	lower, upper, err := problem.GetBounds()
	if err != nil {
		return nil, err
	}
	space := &searchSpace{lower: lower, upper: upper}
	if problem.GetNumberOfDiscreteVariable() > 0 {
		if space.discrete, err = problem.GetDiscreteVariableValues(); err != nil {
			return nil, fmt.Errorf("solve needs the discrete variable values: %w", err)
		}
	}
	return space, nil
}

func (s *searchSpace) size() int {
	return len(s.lower) + len(s.discrete)
}

// decode turns a unit-cube position into a problem point.
func (s *searchSpace) decode(x []float64) globalizer.Point {
	p := globalizer.Point{Continuous: make([]float64, len(s.lower))}
	for i := range s.lower {
		p.Continuous[i] = s.lower[i] + clamp01(x[i])*(s.upper[i]-s.lower[i])
	}
	for j, values := range s.discrete {
		if len(values) == 0 {
			continue
		}
		idx := int(clamp01(x[len(s.lower)+j]) * float64(len(values)))
		if idx >= len(values) {
			idx = len(values) - 1
		}
		p.Discrete = append(p.Discrete, values[idx])
	}
	return p
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// penalizedObjective scores a point as its first criterion plus penalty
// times the sum of violated constraints (g > 0).
type penalizedObjective struct {
	problem     globalizer.Problem
	constraints int
	penalty     float64
	evaluations int64
}

func (o *penalizedObjective) evaluate(p globalizer.Point) (cost float64, feasible bool) {
	o.evaluations++
	violation := 0.0
	for c := 0; c < o.constraints; c++ {
		g, err := o.problem.CalculateFunctionals(p.Continuous, p.Discrete, c)
		if err != nil {
			return invalidCost, false
		}
		if g > 0 {
			violation += g
		}
	}
	value, err := o.problem.CalculateFunctionals(p.Continuous, p.Discrete, o.constraints)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return invalidCost, false
	}
	return value + o.penalty*violation, violation == 0
}

func newSolveCmd(a *app) *cobra.Command {
	var (
		iterations int
		population int
		seed       int64
		penalty    float64
		output     string
	)
	cmd := &cobra.Command{
		Use:   "solve [catalog-name]",
		Short: "Minimize the problem's first criterion with the mayfly algorithm",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, problem, err := a.loadProblem(cmd, args)
			if err != nil {
				return err
			}
			defer manager.Close()

			space, err := newSearchSpace(problem)
			if err != nil {
				return err
			}
			constraints, err := problem.GetNumberOfConstraints()
			if err != nil {
				return err
			}
			objective := &penalizedObjective{problem: problem, constraints: constraints, penalty: penalty}

			config := mayfly.NewDefaultConfig()
			config.ObjectiveFunc = func(x []float64) float64 {
				cost, _ := objective.evaluate(space.decode(x))
				return cost
			}
			config.ProblemSize = space.size()
			config.MaxIterations = iterations
			config.NPop = population
			config.LowerBound = 0
			config.UpperBound = 1
			config.Rand = rand.New(rand.NewSource(seed)) // #nosec G404 - reproducible search

			a.logger.Info("Starting mayfly search",
				"module", manager.Path(),
				"dimension", space.size(),
				"iterations", iterations,
				"population", population)

			start := time.Now()
			result, err := mayfly.Optimize(config)
			if err != nil {
				return fmt.Errorf("mayfly optimization failed: %w", err)
			}

			best := space.decode(result.GlobalBest.Position)
			cost, feasible := objective.evaluate(best)
			out := solveOutput{
				Best:        best,
				Objective:   cost,
				Feasible:    feasible,
				Evaluations: objective.evaluations,
				Elapsed:     time.Since(start).Round(time.Millisecond).String(),
			}
			if v, err := problem.GetOptimumValue(); err == nil {
				out.KnownOptimum = &v
			}
			a.logger.Info("Mayfly search complete", "objective", cost, "feasible", feasible, "elapsed", out.Elapsed)
			return writeDocument(cmd.OutOrStdout(), output, out)
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 100, "Mayfly iterations")
	cmd.Flags().IntVar(&population, "population", 20, "Mayfly population size")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")
	cmd.Flags().Float64Var(&penalty, "penalty", 1000, "Weight of constraint violations")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

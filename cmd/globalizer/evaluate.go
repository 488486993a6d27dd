// evaluate.go: The evaluate command
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	globalizer "github.com/agilira/go-globalizer"
	"github.com/spf13/cobra"
)

type evaluateOutput struct {
	Point      globalizer.Point `json:"point" yaml:"point"`
	Function   *int             `json:"function,omitempty" yaml:"function,omitempty"`
	Values     []float64        `json:"values,omitempty" yaml:"values,omitempty"`
	ResultCode int              `json:"result_code" yaml:"result_code"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
}

func newEvaluateCmd(a *app) *cobra.Command {
	var (
		point    string
		discrete string
		function int
		output   string
	)
	cmd := &cobra.Command{
		Use:   "evaluate [catalog-name]",
		Short: "Evaluate functionals at a point (the start trial when --point is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, problem, err := a.loadProblem(cmd, args)
			if err != nil {
				return err
			}
			defer manager.Close()

			var p globalizer.Point
			if point == "" && discrete == "" {
				trial, err := problem.GetStartTrial()
				if err != nil {
					return fmt.Errorf("no --point given and no start trial: %w", err)
				}
				p = trial.Point
			} else {
				if p.Continuous, err = parseFloats(point); err != nil {
					return err
				}
				p.Discrete = splitList(discrete)
			}

			out := evaluateOutput{Point: p}
			var evalErr error
			if function >= 0 {
				var v float64
				v, evalErr = problem.CalculateFunctionals(p.Continuous, p.Discrete, function)
				out.Function = &function
				if evalErr == nil {
					out.Values = []float64{v}
				}
			} else {
				out.Values, evalErr = problem.CalculateAllFunctionals(p.Continuous, p.Discrete)
			}
			out.ResultCode = globalizer.ResultCodeOf(evalErr)
			if evalErr != nil {
				out.Error = evalErr.Error()
			}
			if err := writeDocument(cmd.OutOrStdout(), output, out); err != nil {
				return err
			}
			return evalErr
		},
	}
	cmd.Flags().StringVar(&point, "point", "", "Continuous coordinates, comma separated")
	cmd.Flags().StringVar(&discrete, "discrete", "", "Discrete coordinate tokens, comma separated")
	cmd.Flags().IntVar(&function, "function", -1, "Functional index (-1 evaluates all)")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseFloats(s string) ([]float64, error) {
	parts := splitList(s)
	values := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q: %w", part, err)
		}
		values[i] = v
	}
	return values, nil
}

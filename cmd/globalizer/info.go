// info.go: The info command
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	globalizer "github.com/agilira/go-globalizer"
	"github.com/spf13/cobra"
)

type infoOutput struct {
	Module  string                 `json:"module" yaml:"module"`
	Problem globalizer.ProblemInfo `json:"problem" yaml:"problem"`
}

func newInfoCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "info [catalog-name]",
		Short: "Describe a problem: dimension, bounds, functionals and optimum",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, problem, err := a.loadProblem(cmd, args)
			if err != nil {
				return err
			}
			defer manager.Close()

			info, err := globalizer.Describe(problem)
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), output, infoOutput{Module: manager.Path(), Problem: info})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

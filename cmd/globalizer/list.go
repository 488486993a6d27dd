// list.go: The list command
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	var (
		dirs   []string
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List builtin problems, plugins and problem manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.catalog(dirs).Scan(cmd.Context())
			if err != nil {
				return err
			}
			if output != "table" {
				return writeDocument(cmd.OutOrStdout(), output, entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tMODULE\tDESCRIPTION")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Kind, e.Module, e.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringArrayVar(&dirs, "dir", nil, "Additional directory to scan (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, yaml, json)")
	return cmd
}

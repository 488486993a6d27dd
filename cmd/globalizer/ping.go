// ping.go: The ping command
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"time"

	globalizer "github.com/agilira/go-globalizer"
	"github.com/spf13/cobra"
)

func newPingCmd(a *app) *cobra.Command {
	var (
		endpoint string
		count    int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that a problem service answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteConfig := a.config.Remote
			if endpoint != "" {
				remoteConfig.Endpoint = endpoint
			}
			if remoteConfig.Endpoint == "" {
				return fmt.Errorf("no endpoint: use --endpoint or remote.endpoint")
			}
			remoteConfig.Logger = a.logger

			remote := globalizer.NewRemoteProblem(remoteConfig)
			defer remote.Close()

			checker := globalizer.NewProblemHealthChecker(remote, a.config.Health, a.logger)
			var last globalizer.HealthStatus
			for i := 0; i < count; i++ {
				if i > 0 {
					select {
					case <-time.After(interval):
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					}
				}
				last = checker.Check()
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s in %v %s\n",
					remoteConfig.Endpoint, last.Status, last.ResponseTime.Round(time.Microsecond), last.Message)
			}
			if last.Status != globalizer.StatusHealthy {
				return fmt.Errorf("%s is %s", remoteConfig.Endpoint, last.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Problem service address (default remote.endpoint)")
	cmd.Flags().IntVarP(&count, "count", "c", 1, "Number of pings")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Delay between pings")
	return cmd
}

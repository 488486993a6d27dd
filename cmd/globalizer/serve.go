// serve.go: The serve command
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	globalizer "github.com/agilira/go-globalizer"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		address string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured problem over gRPC",
		Long: `serve exposes the configured problem through the globalizer.ProblemService
gRPC service, so that a "builtin:remote" problem can evaluate it from another
process or host. With --watch the configuration file is watched and the
problem is reloaded when its module settings change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" {
				address = a.config.Server.Address
			}
			if watch && a.configPath == "" {
				return fmt.Errorf("--watch needs --config")
			}

			manager, err := a.config.NewModuleManager(a.logger)
			if err != nil {
				return err
			}
			defer manager.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if watch {
				watcher, err := globalizer.NewProblemConfigWatcher(manager, a.configPath, globalizer.DefaultConfigWatcherOptions(), a.logger)
				if err != nil {
					return err
				}
				if err := watcher.Start(ctx); err != nil {
					return err
				}
				defer func() { _ = watcher.Stop() }()
			} else if a.config.Module.Path != "" {
				if _, err := manager.InitProblem(a.config.Module.Path, a.config.ProblemOptions()); err != nil {
					return err
				}
			} else {
				a.logger.Warn("No problem module configured, every call but Ping will fail")
			}

			lis, err := net.Listen("tcp", address)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", address, err)
			}

			service := globalizer.NewProblemService(manager, a.logger)
			if err := service.Serve(ctx, lis); err != nil {
				return err
			}

			stats := service.Stats()
			a.logger.Info("Problem service summary",
				"run_id", stats.RunID,
				"calls", stats.Calls,
				"failures", stats.Failures,
				"panics", stats.Panics)
			return shutdownErr(ctx)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "Listen address (default server.address)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the problem when the configuration file changes")
	return cmd
}

// shutdownErr hides the cancellation that ends a normal serve run.
func shutdownErr(ctx context.Context) error {
	if ctx.Err() == context.Canceled {
		return nil
	}
	return ctx.Err()
}

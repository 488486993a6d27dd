// root.go: Root command, shared flags and problem loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	globalizer "github.com/agilira/go-globalizer"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// app holds the flag values and the state every subcommand shares.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	modulePath string
	dimension  int
	params     []string

	config globalizer.GlobalizerConfig
	logger *globalizer.SlogLogger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "globalizer",
		Short: "Load, inspect, evaluate and serve optimization problems",
		Long: `globalizer loads optimization problems from Go plugins, Starlark scripts,
remote problem services or the builtin benchmark set, and exposes them
through a uniform interface.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Configuration file (YAML, JSON or TOML)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")
	flags.StringVar(&a.modulePath, "module", "", "Problem module, e.g. builtin:rastrigin or ./sphere.so")
	flags.IntVar(&a.dimension, "dimension", 0, "Problem dimension (0 keeps the module default)")
	flags.StringArrayVar(&a.params, "param", nil, "Problem parameter as name=value (repeatable)")

	root.AddCommand(
		newInfoCmd(a),
		newEvaluateCmd(a),
		newListCmd(a),
		newServeCmd(a),
		newSolveCmd(a),
		newPingCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup layers flags over the configuration file and environment.
func (a *app) setup(cmd *cobra.Command) error {
	config, err := globalizer.LoadConfigOrDefault(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		config.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		config.Logging.Format = a.logFormat
	}
	if a.modulePath != "" {
		config.Module.Path = a.modulePath
	}
	if a.dimension > 0 {
		config.Module.Dimension = a.dimension
	}
	for _, p := range a.params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid --param %q, expected name=value", p)
		}
		config.Module.Parameters = append(config.Module.Parameters, globalizer.Parameter{Name: name, Value: value})
	}
	if err := config.Validate(); err != nil {
		return err
	}

	a.config = config
	a.logger = config.NewLogger(cmd.ErrOrStderr())
	return nil
}

// loadProblem initializes the configured module, or the catalog entry
// named by args[0]. The caller closes the returned manager.
func (a *app) loadProblem(cmd *cobra.Command, args []string) (*globalizer.ModuleManager, globalizer.Problem, error) {
	manager, err := a.config.NewModuleManager(a.logger)
	if err != nil {
		return nil, nil, err
	}

	var problem globalizer.Problem
	if len(args) > 0 {
		catalog := a.catalog(nil)
		if _, err = catalog.Scan(cmd.Context()); err == nil {
			problem, err = catalog.InitProblem(manager, args[0])
		}
	} else {
		if a.config.Module.Path == "" {
			_ = manager.Close()
			return nil, nil, fmt.Errorf("no problem module configured: use --module, module.path or a catalog name")
		}
		problem, err = manager.InitProblem(a.config.Module.Path, a.config.ProblemOptions())
	}
	if err != nil {
		_ = manager.Close()
		return nil, nil, err
	}
	return manager, problem, nil
}

func (a *app) catalog(extraDirs []string) *globalizer.ModuleCatalog {
	dirs := append(append([]string(nil), a.config.Module.CatalogDirs...), extraDirs...)
	options := globalizer.DefaultCatalogOptions(dirs...)
	options.Registry = globalizer.NewBuiltinRegistry()
	return globalizer.NewModuleCatalog(options, a.logger)
}

// writeDocument prints v as YAML or indented JSON.
func writeDocument(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

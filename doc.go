// Package globalizer loads global optimization problems at runtime and
// exposes them to solvers through one Problem contract. A problem may be
// compiled into the host, built as a Go plugin, written as a Starlark
// script or served by another process over gRPC.
//
// Key Features:
//   - One active problem module at a time, with reload and unload
//   - Builtin benchmarks: rastrigin, x2, stronginc3 and rastrigin_int
//   - Starlark problem scripts run under exclusive interpreter access
//   - Remote problems over gRPC with circuit breaking and health checks
//   - SHA-256 whitelist verification of module files
//   - A catalog of problems discovered from manifests and plugin files
//   - Hot reload of the loaded module when its configuration file changes
//   - Structured logging through log/slog
//
// Basic Usage:
//
//	manager := globalizer.NewModuleManager(globalizer.DefaultModuleManagerConfig())
//	defer manager.Close()
//
//	problem, err := manager.InitProblem("builtin:rastrigin", globalizer.ProblemOptions{Dimension: 3})
//	if err != nil {
//		log.Fatal(err)
//	}
//	lower, upper, _ := problem.GetBounds()
//	value, err := problem.CalculateFunctionals([]float64{0, 0, 0}, nil, 0)
//
// Scripted problems:
// The builtin:scripted module hosts a Starlark class. The script defines
// constructor_parameters(class_name) and a constructor returning a struct
// with dimension, bounds and a calculate(point, function_index) function.
// Calls are serialized through a process-wide interpreter session.
//
// Configuration:
// LoadConfig reads YAML, JSON, TOML or any other format Argus parses,
// expands ${VAR} references and applies GLOBALIZER_* overrides. A
// ProblemConfigWatcher re-initializes the module when the file changes and
// rolls back to the previous one when the new module fails.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package globalizer

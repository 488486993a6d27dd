// errors.go: structured error definitions for the globalizer system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for the globalizer system
const (
	// Module lifecycle errors (2100-2199)
	ErrCodeLoadError          = "MODULE_2101"
	ErrCodeSymbolError        = "MODULE_2102"
	ErrCodeInstantiationError = "MODULE_2103"
	ErrCodeDestroyError       = "MODULE_2104"
	ErrCodeModuleRegistry     = "MODULE_2105"

	// Scripting runtime errors (2200-2299)
	ErrCodeConfigurationError   = "SCRIPT_2201"
	ErrCodeEvaluationError      = "SCRIPT_2202"
	ErrCodeInterpreterFinalized = "SCRIPT_2203"
	ErrCodeAccessCancelled      = "SCRIPT_2204"
	ErrCodeMarshalError         = "SCRIPT_2205"

	// Problem contract errors (2300-2399)
	ErrCodeCapabilityUnsupported = "PROBLEM_2301"
	ErrCodeAlreadyInitialized    = "PROBLEM_2302"
	ErrCodeNotInitialized        = "PROBLEM_2303"
	ErrCodeInvalidDimension      = "PROBLEM_2304"
	ErrCodeInvalidPoint          = "PROBLEM_2305"
	ErrCodeInvalidFunctionIndex  = "PROBLEM_2306"
	ErrCodeDiscreteValue         = "PROBLEM_2307"
	ErrCodeStartTrialAmbiguous   = "PROBLEM_2308"
	ErrCodeInvalidParameter      = "PROBLEM_2309"

	// Transport errors (1300-1399)
	ErrCodeGRPCTransportError = "TRANSPORT_1302"
	ErrCodeSerializationError = "TRANSPORT_1305"

	// Circuit breaker errors (1400-1499)
	ErrCodeCircuitBreakerOpen = "CIRCUIT_1401"

	// Health check errors (1600-1699)
	ErrCodeHealthCheckFailed = "HEALTH_1601"

	// Configuration management errors (1700-1799)
	ErrCodeConfigParseError      = "CONFIG_1702"
	ErrCodeConfigValidationError = "CONFIG_1703"
	ErrCodeConfigWatcherError    = "CONFIG_1704"
	ErrCodeConfigPathError       = "CONFIG_1705"
	ErrCodeConfigFileError       = "CONFIG_1706"

	// Security errors (1800-1899)
	ErrCodeWhitelistError      = "SECURITY_1802"
	ErrCodeHashValidationError = "SECURITY_1803"
	ErrCodeUnauthorizedModule  = "SECURITY_1804"

	// Catalog errors (1900-1999)
	ErrCodeDiscoveryError = "REGISTRY_1906"
)

// Module lifecycle error constructors

func NewLoadError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeLoadError, "Module load failed").
		WithUserMessage("The problem module could not be opened").
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewSymbolError(path, symbol string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeSymbolError, "Required module symbol missing").
		WithUserMessage("The problem module does not export the required entry point").
		WithContext("module_path", path).
		WithContext("symbol", symbol).
		WithSeverity("error")
}

func NewInstantiationError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeInstantiationError, "Module factory failed").
		WithUserMessage("The problem module failed to create a problem instance").
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewDestroyError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeDestroyError, "Module destructor failed").
		WithUserMessage("The problem instance could not be destroyed cleanly").
		WithContext("module_path", path).
		WithSeverity("warning")
}

func NewModuleRegistryError(path, message string) *errors.Error {
	return errors.New(ErrCodeModuleRegistry, "Module registry error: "+message).
		WithUserMessage("The in-process module registry rejected the request").
		WithContext("module_path", path).
		WithSeverity("error")
}

// Scripting runtime error constructors

func NewConfigurationError(resource, message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigurationError, "Scripted problem configuration error: "+message).
		WithUserMessage("A required script resource is missing or invalid").
		WithContext("resource", resource).
		WithSeverity("error")
}

func NewEvaluationError(method string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeEvaluationError, "Functional evaluation failed").
		WithUserMessage("The problem failed while evaluating a functional").
		WithContext("method", method).
		WithSeverity("error")
}

func NewInterpreterFinalizedError(sessionID string) *errors.Error {
	return errors.New(ErrCodeInterpreterFinalized, "Interpreter session finalized").
		WithUserMessage("The scripting runtime has already been shut down").
		WithContext("session_id", sessionID).
		WithSeverity("error")
}

func NewAccessCancelledError(cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeAccessCancelled, "Interpreter access cancelled").
		WithUserMessage("Waiting for exclusive interpreter access was cancelled").
		WithSeverity("warning").
		AsRetryable()
}

func NewMarshalError(what string, got string) *errors.Error {
	return errors.New(ErrCodeMarshalError, "Script value conversion failed").
		WithUserMessage("A script returned a value of an unexpected type").
		WithContext("expected", what).
		WithContext("got", got).
		WithSeverity("error")
}

// Problem contract error constructors

func NewCapabilityUnsupportedError(operation string) *errors.Error {
	return errors.New(ErrCodeCapabilityUnsupported, "Operation not supported by problem").
		WithUserMessage("The problem does not implement this optional operation").
		WithContext("operation", operation).
		WithSeverity("info")
}

func NewAlreadyInitializedError(problem string) *errors.Error {
	return errors.New(ErrCodeAlreadyInitialized, "Problem already initialized").
		WithUserMessage("Initialize may only be called once").
		WithContext("problem", problem).
		WithSeverity("error")
}

func NewNotInitializedError(problem, operation string) *errors.Error {
	return errors.New(ErrCodeNotInitialized, "Problem not initialized").
		WithUserMessage("Initialize must be called before querying or evaluating the problem").
		WithContext("problem", problem).
		WithContext("operation", operation).
		WithSeverity("error")
}

func NewInvalidDimensionError(dimension, minDim, maxDim int) *errors.Error {
	return errors.New(ErrCodeInvalidDimension, "Unsupported problem dimension").
		WithUserMessage("The requested dimension is outside the supported range").
		WithContext("dimension", dimension).
		WithContext("min_dimension", minDim).
		WithContext("max_dimension", maxDim).
		WithSeverity("error")
}

func NewInvalidPointError(expected, got int, part string) *errors.Error {
	return errors.New(ErrCodeInvalidPoint, "Point has wrong number of coordinates").
		WithUserMessage("The evaluation point does not match the problem layout").
		WithContext("part", part).
		WithContext("expected", expected).
		WithContext("got", got).
		WithSeverity("error")
}

func NewInvalidFunctionIndexError(index, functions int) *errors.Error {
	return errors.New(ErrCodeInvalidFunctionIndex, "Functional index out of range").
		WithUserMessage("The requested functional does not exist").
		WithContext("index", index).
		WithContext("functions", functions).
		WithSeverity("error")
}

func NewDiscreteValueError(coordinate int, token string) *errors.Error {
	return errors.New(ErrCodeDiscreteValue, "Discrete value not in domain").
		WithUserMessage("A discrete coordinate holds a token outside its domain").
		WithContext("coordinate", coordinate).
		WithContext("token", token).
		WithSeverity("error")
}

func NewStartTrialAmbiguousError(discrete int) *errors.Error {
	return errors.New(ErrCodeStartTrialAmbiguous, "Start trial undefined for several discrete coordinates").
		WithUserMessage("The start point can only be decoded for problems with at most one discrete coordinate").
		WithContext("discrete_coordinates", discrete).
		WithSeverity("warning")
}

func NewInvalidParameterError(name, value string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeInvalidParameter, "Invalid problem parameter").
		WithUserMessage("The parameter value could not be applied").
		WithContext("parameter", name).
		WithContext("value", value).
		WithSeverity("error")
}

// Transport error constructors

func NewGRPCTransportError(cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeGRPCTransportError, "gRPC transport error").
		WithUserMessage("Communication with the remote problem failed").
		WithSeverity("error").
		AsRetryable()
}

// NewRemoteProblemError rebuilds a problem error received from a remote
// problem service, keeping its original code.
func NewRemoteProblemError(code, message, endpoint string) *errors.Error {
	return errors.New(errors.ErrorCode(code), message).
		WithUserMessage("The remote problem reported an error").
		WithContext("endpoint", endpoint).
		WithSeverity("error")
}

func NewSerializationError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeSerializationError, "Serialization error: "+message).
		WithUserMessage("Data serialization failed").
		WithSeverity("error")
}

func NewCircuitBreakerOpenError(endpoint string) *errors.Error {
	return errors.New(ErrCodeCircuitBreakerOpen, "Circuit breaker open").
		WithUserMessage("Circuit breaker is open, failing fast to prevent cascading failures").
		WithContext("endpoint", endpoint).
		WithSeverity("warning")
}

func NewHealthCheckFailedError(target string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeHealthCheckFailed, "Health check failed").
		WithUserMessage("Remote problem health check failed").
		WithContext("target", target).
		WithSeverity("warning")
}

// Configuration error constructors

func NewConfigParseError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigParseError, "Configuration parse error").
		WithUserMessage("Failed to parse configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigValidationError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigValidationError, "Configuration validation error: "+message).
		WithUserMessage("Configuration validation failed").
		WithSeverity("error")
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigWatcherError, "Configuration watcher error: "+message).
		WithUserMessage("Configuration monitoring failed").
		WithSeverity("error")
}

func NewConfigPathError(path string, message string) *errors.Error {
	return errors.New(ErrCodeConfigPathError, "Configuration path error: "+message).
		WithUserMessage("Invalid configuration file path").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigFileError(path string, message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigFileError, "Configuration file error: "+message).
		WithUserMessage("Configuration file access failed").
		WithContext("config_path", path).
		WithSeverity("error")
}

// Security error constructors

func NewWhitelistError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeWhitelistError, "Whitelist error: "+message).
		WithUserMessage("Module whitelist operation failed").
		WithSeverity("error")
}

func NewHashValidationError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeHashValidationError, "Hash validation error").
		WithUserMessage("Module hash validation failed").
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewUnauthorizedModuleError(path, reason string) *errors.Error {
	return errors.New(ErrCodeUnauthorizedModule, "Module not authorized: "+reason).
		WithUserMessage("The module is not present in the whitelist or its hash does not match").
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewDiscoveryError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeDiscoveryError, "Discovery error: "+message).
		WithUserMessage("Problem catalog discovery failed").
		WithSeverity("warning")
}

// wrapOrNew wraps cause when present and builds a fresh error otherwise.
func wrapOrNew(cause error, code errors.ErrorCode, message string) *errors.Error {
	if cause == nil {
		return errors.New(code, message)
	}
	return errors.Wrap(cause, code, message)
}

// errorCode returns the structured error code carried by err, if any.
func errorCode(err error) errors.ErrorCode {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return structured.Code
	}
	return ""
}

// HasErrorCode reports whether err carries the given structured error code.
func HasErrorCode(err error, code string) bool {
	return err != nil && errorCode(err) == errors.ErrorCode(code)
}

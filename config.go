// config.go: Globalizer configuration model, loading and validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/argus"
	"golang.org/x/exp/constraints"
	"gopkg.in/yaml.v3"
)

// maxConfigFileSize bounds the configuration files read from disk.
const maxConfigFileSize = 1 << 20 // 1MB

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ModuleConfig names the problem module to load and how to prepare it.
type ModuleConfig struct {
	Path          string      `json:"path,omitempty" yaml:"path,omitempty"`
	ConfigPath    string      `json:"config_path,omitempty" yaml:"config_path,omitempty"`
	Dimension     int         `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	Parameters    []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	CreateSymbol  string      `json:"create_symbol,omitempty" yaml:"create_symbol,omitempty"`
	DestroySymbol string      `json:"destroy_symbol,omitempty" yaml:"destroy_symbol,omitempty"`
	CatalogDirs   []string    `json:"catalog_dirs,omitempty" yaml:"catalog_dirs,omitempty"`
}

// ScriptedConfig locates the script object of "builtin:scripted".
type ScriptedConfig struct {
	SearchPath string `json:"search_path,omitempty" yaml:"search_path,omitempty"`
	ModuleName string `json:"module_name,omitempty" yaml:"module_name,omitempty"`
	ClassName  string `json:"class_name,omitempty" yaml:"class_name,omitempty"`
}

// ServerConfig configures the problem service.
type ServerConfig struct {
	Address         string        `json:"address" yaml:"address"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// GlobalizerConfig is the complete configuration of the command-line tool
// and of embedders that prefer a file over code.
//
// Durations are written as Go duration strings ("250ms", "10s") in every
// format. String values may reference the environment as ${VAR} or
// ${VAR:-default}, and GLOBALIZER_* variables override individual fields.
//
// Example YAML:
//
//	logging:
//	  level: info
//	  format: json
//	module:
//	  path: builtin:scripted
//	  dimension: 4
//	scripted:
//	  search_path: ./problems
//	  module_name: rastrigin
//	  class_name: Rastrigin
//	security:
//	  policy: strict
//	  whitelist_file: /etc/globalizer/modules.yaml
type GlobalizerConfig struct {
	Logging  LoggingConfig       `json:"logging" yaml:"logging"`
	Module   ModuleConfig        `json:"module" yaml:"module"`
	Scripted ScriptedConfig      `json:"scripted" yaml:"scripted"`
	Security SecurityConfig      `json:"security" yaml:"security"`
	Remote   RemoteProblemConfig `json:"remote" yaml:"remote"`
	Health   HealthCheckConfig   `json:"health" yaml:"health"`
	Server   ServerConfig        `json:"server" yaml:"server"`
}

// DefaultConfig returns the defaults every loaded file is layered on.
func DefaultConfig() GlobalizerConfig {
	return GlobalizerConfig{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Module: ModuleConfig{
			CreateSymbol:  DefaultCreateSymbol,
			DestroySymbol: DefaultDestroySymbol,
		},
		Security: SecurityConfig{Policy: SecurityPolicyDisabled},
		Remote:   DefaultRemoteProblemConfig(),
		Health: HealthCheckConfig{
			Interval:     30 * time.Second,
			Timeout:      5 * time.Second,
			FailureLimit: 3,
		},
		Server: ServerConfig{
			Address:         ":9100",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *GlobalizerConfig) ApplyDefaults() {
	d := DefaultConfig()
	c.Logging.Level = orDefault(c.Logging.Level, d.Logging.Level)
	c.Logging.Format = orDefault(c.Logging.Format, d.Logging.Format)
	c.Module.CreateSymbol = orDefault(c.Module.CreateSymbol, d.Module.CreateSymbol)
	c.Module.DestroySymbol = orDefault(c.Module.DestroySymbol, d.Module.DestroySymbol)
	c.Remote.CallTimeout = orDefault(c.Remote.CallTimeout, d.Remote.CallTimeout)
	c.Remote.MaxMessageSize = orDefault(c.Remote.MaxMessageSize, d.Remote.MaxMessageSize)
	if c.Remote.CircuitBreaker == (CircuitBreakerConfig{}) {
		c.Remote.CircuitBreaker = d.Remote.CircuitBreaker
	}
	c.Health.Timeout = orDefault(c.Health.Timeout, d.Health.Timeout)
	c.Health.FailureLimit = orDefault(c.Health.FailureLimit, d.Health.FailureLimit)
	c.Server.Address = orDefault(c.Server.Address, d.Server.Address)
	c.Server.ShutdownTimeout = orDefault(c.Server.ShutdownTimeout, d.Server.ShutdownTimeout)
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func nonNegative[T constraints.Integer | constraints.Float](v T) bool {
	return v >= 0
}

// Validate checks the configuration for values that cannot work.
func (c *GlobalizerConfig) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return NewConfigValidationError("unknown log level: "+c.Logging.Level, nil)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return NewConfigValidationError("unknown log format: "+c.Logging.Format, nil)
	}

	if !inRange(c.Module.Dimension, 0, math.MaxInt32) {
		return NewConfigValidationError(fmt.Sprintf("module.dimension must be non-negative, got %d", c.Module.Dimension), nil)
	}
	for i, p := range c.Module.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return NewConfigValidationError(fmt.Sprintf("module.parameters[%d] has no name", i), nil)
		}
	}

	if !inRange(c.Security.Policy, SecurityPolicyDisabled, SecurityPolicyStrict) {
		return NewConfigValidationError("unknown security policy: "+c.Security.Policy.String(), nil)
	}
	if c.Security.Policy != SecurityPolicyDisabled && c.Security.WhitelistFile == "" {
		return NewConfigValidationError("security.whitelist_file is required when security is enabled", nil)
	}
	if !nonNegative(c.Security.MaxFileSize) {
		return NewConfigValidationError("security.max_file_size must be non-negative", nil)
	}

	if !nonNegative(c.Remote.CallTimeout) || !nonNegative(c.Remote.MaxMessageSize) {
		return NewConfigValidationError("remote timeouts and sizes must be non-negative", nil)
	}
	cb := c.Remote.CircuitBreaker
	if !nonNegative(cb.FailureThreshold) || !nonNegative(cb.SuccessThreshold) || !nonNegative(cb.RecoveryTimeout) {
		return NewConfigValidationError("remote.circuit_breaker values must be non-negative", nil)
	}
	if c.Remote.TLS.Enabled && (c.Remote.TLS.CertFile == "") != (c.Remote.TLS.KeyFile == "") {
		return NewConfigValidationError("remote.tls cert_file and key_file must be set together", nil)
	}

	if !nonNegative(c.Health.Interval) || !nonNegative(c.Health.Timeout) || !nonNegative(c.Health.FailureLimit) {
		return NewConfigValidationError("health values must be non-negative", nil)
	}
	if !nonNegative(c.Server.ShutdownTimeout) {
		return NewConfigValidationError("server.shutdown_timeout must be non-negative", nil)
	}
	return nil
}

// LoadConfig reads path, expands environment references, applies
// GLOBALIZER_* overrides and defaults, then validates. The format follows
// the file extension.
func LoadConfig(path string) (GlobalizerConfig, error) {
	config := DefaultConfig()

	data, err := readConfigFile(path)
	if err != nil {
		return config, err
	}
	expanded, err := ExpandEnvironmentVariables(string(data), DefaultEnvConfigOptions())
	if err != nil {
		return config, NewConfigParseError(path, err)
	}
	if err := decodeDocument([]byte(expanded), argus.DetectFormat(path), &config); err != nil {
		return config, NewConfigParseError(path, err)
	}
	if err := ApplyEnvironmentOverrides(&config, DefaultEnvConfigOptions()); err != nil {
		return config, err
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// LoadConfigOrDefault is LoadConfig for an optional file: an empty path
// yields the defaults with environment overrides applied.
func LoadConfigOrDefault(path string) (GlobalizerConfig, error) {
	if path != "" {
		return LoadConfig(path)
	}
	config := DefaultConfig()
	if err := ApplyEnvironmentOverrides(&config, DefaultEnvConfigOptions()); err != nil {
		return config, err
	}
	config.ApplyDefaults()
	return config, config.Validate()
}

func readConfigFile(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, NewConfigPathError(path, "empty path")
	}
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, NewConfigFileError(path, "cannot stat configuration file", err)
	}
	if info.IsDir() {
		return nil, NewConfigPathError(path, "path is a directory")
	}
	if info.Size() > maxConfigFileSize {
		return nil, NewConfigFileError(path, fmt.Sprintf("file too large: %d bytes", info.Size()), nil)
	}
	data, err := os.ReadFile(cleanPath) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, NewConfigFileError(path, "cannot read configuration file", err)
	}
	return data, nil
}

// decodeDocument decodes YAML with yaml.v3 and every other format through
// argus. argus maps are rebound through yaml.v3 so durations and policies
// decode the same way in all formats.
func decodeDocument(data []byte, format argus.ConfigFormat, out any) error {
	if format == argus.FormatYAML {
		return yaml.Unmarshal(data, out)
	}
	configMap, err := argus.ParseConfig(data, format)
	if err != nil {
		return err
	}
	return bindConfigMap(configMap, out)
}

func bindConfigMap(configMap map[string]interface{}, out any) error {
	if configMap == nil {
		return fmt.Errorf("configuration map is nil")
	}
	// JSON is valid YAML, and json.Marshal keeps integers integral.
	data, err := json.Marshal(configMap)
	if err != nil {
		return fmt.Errorf("failed to marshal config map: %w", err)
	}
	return yaml.Unmarshal(data, out)
}

// ProblemOptions returns the preparation steps InitProblem applies to the
// configured module.
func (c GlobalizerConfig) ProblemOptions() ProblemOptions {
	opts := ProblemOptions{
		ConfigPath: c.Module.ConfigPath,
		Dimension:  c.Module.Dimension,
	}
	if c.Module.Path == BuiltinScheme+"scripted" {
		if opts.ConfigPath == "" {
			opts.ConfigPath = c.Scripted.SearchPath
		}
		for _, kv := range [][2]string{
			{ParamKeyModuleName, c.Scripted.ModuleName},
			{ParamKeyClassName, c.Scripted.ClassName},
		} {
			if kv[1] != "" {
				opts.Parameters = append(opts.Parameters, Parameter{Name: kv[0], Value: kv[1]})
			}
		}
	}
	opts.Parameters = append(opts.Parameters, c.Module.Parameters...)
	return opts
}

// NewLogger builds the slog logger selected by the logging section.
func (c GlobalizerConfig) NewLogger(w io.Writer) *SlogLogger {
	return NewSlogLoggerFromOptions(w, c.Logging.Format, c.Logging.Level)
}

// NewModuleManager builds a manager whose builtin registry uses the remote
// settings and whose verifier enforces the security section.
func (c GlobalizerConfig) NewModuleManager(logger any) (*ModuleManager, error) {
	remote := c.Remote
	remote.Logger = logger

	config := ModuleManagerConfig{
		Opener: &SchemeOpener{
			Registry: newBuiltinRegistry(remote, logger),
			Fallback: NewPluginOpener(logger),
		},
		CreateSymbol:  c.Module.CreateSymbol,
		DestroySymbol: c.Module.DestroySymbol,
		Logger:        logger,
	}
	if c.Security.Policy != SecurityPolicyDisabled {
		verifier, err := NewWhitelistVerifier(c.Security, logger)
		if err != nil {
			return nil, err
		}
		config.Verifier = verifier
	}
	return NewModuleManager(config), nil
}

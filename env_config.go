// env_config.go: Environment variable expansion and GLOBALIZER_* overrides
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EnvConfigOptions controls environment expansion.
type EnvConfigOptions struct {
	// Prefix is tried before the bare variable name, and names the override
	// variables.
	Prefix string `json:"prefix" yaml:"prefix"`

	// FailOnMissing turns an unresolved ${VAR} into an error.
	FailOnMissing bool `json:"fail_on_missing" yaml:"fail_on_missing"`

	// Defaults resolve variables absent from the environment.
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// DefaultEnvConfigOptions uses the GLOBALIZER_ prefix and tolerates
// missing variables.
func DefaultEnvConfigOptions() EnvConfigOptions {
	return EnvConfigOptions{
		Prefix:   "GLOBALIZER_",
		Defaults: make(map[string]string),
	}
}

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvironmentVariables replaces ${VAR} and ${VAR:-default}.
//
// Resolution order: prefixed variable, bare variable, inline default,
// Defaults, then empty (or an error with FailOnMissing).
//
//	expanded, err := ExpandEnvironmentVariables("${HOST:-localhost}:${PORT:-9100}", DefaultEnvConfigOptions())
func ExpandEnvironmentVariables(input string, options EnvConfigOptions) (string, error) {
	if input == "" {
		return input, nil
	}

	var firstErr error
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := variablePattern.FindStringSubmatch(match)
		value, err := expandSingleEnvironmentVariable(submatches[1], submatches[2] != "", submatches[3], options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return value
	})
	return result, firstErr
}

func expandSingleEnvironmentVariable(name string, hasDefault bool, inlineDefault string, options EnvConfigOptions) (string, error) {
	if options.Prefix != "" && !strings.HasPrefix(name, options.Prefix) {
		if value, ok := os.LookupEnv(options.Prefix + name); ok {
			return validateEnvValue(name, value)
		}
	}
	if value, ok := os.LookupEnv(name); ok {
		return validateEnvValue(name, value)
	}
	if hasDefault {
		return inlineDefault, nil
	}
	if value, ok := options.Defaults[name]; ok {
		return value, nil
	}
	if options.FailOnMissing {
		return "", NewConfigValidationError("required environment variable not found: "+name, nil)
	}
	return "", nil
}

// validateEnvValue rejects values that cannot be spliced into a config file.
func validateEnvValue(name, value string) (string, error) {
	const maxLength = 4096
	if len(value) > maxLength {
		return "", NewConfigValidationError(fmt.Sprintf("environment variable %s too long: %d bytes (max %d)", name, len(value), maxLength), nil)
	}
	for i, r := range value {
		if r < 32 && r != '\t' {
			return "", NewConfigValidationError(fmt.Sprintf("environment variable %s contains control character at position %d", name, i), nil)
		}
	}
	return value, nil
}

// envOverride binds one GLOBALIZER_* variable to a config field.
type envOverride struct {
	name  string
	apply func(c *GlobalizerConfig, value string) error
}

var envOverrides = []envOverride{
	{"LOG_LEVEL", func(c *GlobalizerConfig, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *GlobalizerConfig, v string) error { c.Logging.Format = v; return nil }},
	{"MODULE_PATH", func(c *GlobalizerConfig, v string) error { c.Module.Path = v; return nil }},
	{"MODULE_CONFIG_PATH", func(c *GlobalizerConfig, v string) error { c.Module.ConfigPath = v; return nil }},
	{"DIMENSION", func(c *GlobalizerConfig, v string) error { return setEnvInt(&c.Module.Dimension, v) }},
	{"CATALOG_DIRS", func(c *GlobalizerConfig, v string) error {
		c.Module.CatalogDirs = strings.Split(v, string(os.PathListSeparator))
		return nil
	}},
	{"SCRIPT_PATH", func(c *GlobalizerConfig, v string) error { c.Scripted.SearchPath = v; return nil }},
	{"SCRIPT_MODULE", func(c *GlobalizerConfig, v string) error { c.Scripted.ModuleName = v; return nil }},
	{"SCRIPT_CLASS", func(c *GlobalizerConfig, v string) error { c.Scripted.ClassName = v; return nil }},
	{"SECURITY_POLICY", func(c *GlobalizerConfig, v string) error { return c.Security.Policy.UnmarshalText([]byte(v)) }},
	{"WHITELIST_FILE", func(c *GlobalizerConfig, v string) error { c.Security.WhitelistFile = v; return nil }},
	{"REMOTE_ENDPOINT", func(c *GlobalizerConfig, v string) error { c.Remote.Endpoint = v; return nil }},
	{"REMOTE_TIMEOUT", func(c *GlobalizerConfig, v string) error { return setEnvDuration(&c.Remote.CallTimeout, v) }},
	{"SERVER_ADDRESS", func(c *GlobalizerConfig, v string) error { c.Server.Address = v; return nil }},
}

// ApplyEnvironmentOverrides sets fields from <Prefix><NAME> variables, for
// example GLOBALIZER_MODULE_PATH or GLOBALIZER_DIMENSION.
func ApplyEnvironmentOverrides(config *GlobalizerConfig, options EnvConfigOptions) error {
	for _, o := range envOverrides {
		name := options.Prefix + o.name
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			continue
		}
		if _, err := validateEnvValue(name, value); err != nil {
			return err
		}
		if err := o.apply(config, value); err != nil {
			return NewConfigValidationError("invalid value for "+name, err)
		}
	}
	return nil
}

func setEnvInt(dst *int, value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setEnvDuration(dst *time.Duration, value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

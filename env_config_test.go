// env_config_test.go: tests for environment expansion and overrides
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"strings"
	"testing"
	"time"
)

func TestExpandEnvironmentVariables_BasicExpansion(t *testing.T) {
	t.Setenv("TEST_VAR1", "value1")
	t.Setenv("TEST_EMPTY", "")
	t.Setenv("TEST_SPECIAL", "value with spaces & symbols!")

	options := EnvConfigOptions{Defaults: map[string]string{"FROM_DEFAULTS": "fallback"}}

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple variable", "${TEST_VAR1}", "value1"},
		{"inline default ignored when set", "${TEST_VAR1:-other}", "value1"},
		{"inline default", "${TEST_MISSING:-other}", "other"},
		{"empty inline default", "${TEST_MISSING:-}", ""},
		{"set but empty wins over default", "${TEST_EMPTY:-other}", ""},
		{"defaults map", "${FROM_DEFAULTS}", "fallback"},
		{"missing resolves empty", "a${TEST_MISSING}b", "ab"},
		{"several variables", "${TEST_VAR1}/${TEST_MISSING:-x}/${TEST_VAR1}", "value1/x/value1"},
		{"special characters", "${TEST_SPECIAL}", "value with spaces & symbols!"},
		{"no variables", "plain text", "plain text"},
		{"malformed reference untouched", "${1BAD}", "${1BAD}"},
		{"empty input", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ExpandEnvironmentVariables(tc.input, options)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestExpandEnvironmentVariables_PrefixTakesPrecedence(t *testing.T) {
	t.Setenv("ENDPOINT", "plain:9100")
	t.Setenv("GLOBALIZER_ENDPOINT", "prefixed:9100")

	result, err := ExpandEnvironmentVariables("${ENDPOINT}", DefaultEnvConfigOptions())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result != "prefixed:9100" {
		t.Errorf("Expected the prefixed variable, got %q", result)
	}

	// Already prefixed names are looked up once.
	result, err = ExpandEnvironmentVariables("${GLOBALIZER_ENDPOINT}", DefaultEnvConfigOptions())
	if err != nil || result != "prefixed:9100" {
		t.Errorf("Expected prefixed:9100, got %q (%v)", result, err)
	}
}

func TestExpandEnvironmentVariables_FailOnMissing(t *testing.T) {
	options := EnvConfigOptions{FailOnMissing: true}

	_, err := ExpandEnvironmentVariables("${TEST_SURELY_MISSING_VARIABLE}", options)
	if err == nil {
		t.Fatal("Expected an error for a missing variable")
	}
	if !HasErrorCode(err, ErrCodeConfigValidationError) {
		t.Errorf("Expected a validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "TEST_SURELY_MISSING_VARIABLE") {
		t.Errorf("Expected the variable name in the error, got %v", err)
	}

	result, err := ExpandEnvironmentVariables("${TEST_SURELY_MISSING_VARIABLE:-ok}", options)
	if err != nil || result != "ok" {
		t.Errorf("Expected the inline default to satisfy FailOnMissing, got %q (%v)", result, err)
	}
}

func TestExpandEnvironmentVariables_RejectsUnsafeValues(t *testing.T) {
	testCases := map[string]string{
		"control character": "line1\nline2",
		"too long":          strings.Repeat("a", 4097),
	}
	for name, value := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TEST_UNSAFE", value)
			if _, err := ExpandEnvironmentVariables("${TEST_UNSAFE}", EnvConfigOptions{}); err == nil {
				t.Error("Expected the value to be rejected")
			}
		})
	}

	t.Setenv("TEST_TAB", "a\tb")
	if result, err := ExpandEnvironmentVariables("${TEST_TAB}", EnvConfigOptions{}); err != nil || result != "a\tb" {
		t.Errorf("Expected tabs to be accepted, got %q (%v)", result, err)
	}
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	t.Setenv("GLOBALIZER_LOG_LEVEL", "debug")
	t.Setenv("GLOBALIZER_MODULE_PATH", "builtin:scripted")
	t.Setenv("GLOBALIZER_DIMENSION", "7")
	t.Setenv("GLOBALIZER_SCRIPT_MODULE", "rastrigin")
	t.Setenv("GLOBALIZER_SECURITY_POLICY", "strict")
	t.Setenv("GLOBALIZER_REMOTE_TIMEOUT", "250ms")
	t.Setenv("GLOBALIZER_CATALOG_DIRS", "/a:/b")

	config := DefaultConfig()
	if err := ApplyEnvironmentOverrides(&config, DefaultEnvConfigOptions()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected debug, got %q", config.Logging.Level)
	}
	if config.Module.Path != "builtin:scripted" || config.Module.Dimension != 7 {
		t.Errorf("Unexpected module config %+v", config.Module)
	}
	if config.Scripted.ModuleName != "rastrigin" {
		t.Errorf("Expected rastrigin, got %q", config.Scripted.ModuleName)
	}
	if config.Security.Policy != SecurityPolicyStrict {
		t.Errorf("Expected strict, got %s", config.Security.Policy)
	}
	if config.Remote.CallTimeout != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", config.Remote.CallTimeout)
	}
	if len(config.Module.CatalogDirs) != 2 || config.Module.CatalogDirs[1] != "/b" {
		t.Errorf("Unexpected catalog dirs %v", config.Module.CatalogDirs)
	}
}

func TestApplyEnvironmentOverrides_InvalidValues(t *testing.T) {
	testCases := map[string]string{
		"GLOBALIZER_DIMENSION":       "four",
		"GLOBALIZER_REMOTE_TIMEOUT":  "soon",
		"GLOBALIZER_SECURITY_POLICY": "paranoid",
	}
	for name, value := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			config := DefaultConfig()
			err := ApplyEnvironmentOverrides(&config, DefaultEnvConfigOptions())
			if !HasErrorCode(err, ErrCodeConfigValidationError) {
				t.Errorf("Expected a validation error, got %v", err)
			}
		})
	}
}

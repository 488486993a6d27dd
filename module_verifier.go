// module_verifier.go: SHA-256 whitelist verification of file-backed problem modules
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
	"gopkg.in/yaml.v3"
)

// SecurityPolicy defines how whitelist violations are enforced.
type SecurityPolicy int

const (
	// SecurityPolicyDisabled skips verification.
	SecurityPolicyDisabled SecurityPolicy = iota
	// SecurityPolicyPermissive logs violations but lets the module load.
	SecurityPolicyPermissive
	// SecurityPolicyStrict rejects modules that are not whitelisted.
	SecurityPolicyStrict
)

func (sp SecurityPolicy) String() string {
	switch sp {
	case SecurityPolicyDisabled:
		return "disabled"
	case SecurityPolicyPermissive:
		return "permissive"
	case SecurityPolicyStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseSecurityPolicy accepts the names returned by String.
func ParseSecurityPolicy(s string) (SecurityPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled":
		return SecurityPolicyDisabled, nil
	case "permissive":
		return SecurityPolicyPermissive, nil
	case "strict":
		return SecurityPolicyStrict, nil
	default:
		return SecurityPolicyDisabled, NewConfigValidationError("unknown security policy: "+s, nil)
	}
}

// MarshalText encodes the policy by name in JSON and YAML.
func (sp SecurityPolicy) MarshalText() ([]byte, error) {
	return []byte(sp.String()), nil
}

// UnmarshalText decodes a policy name.
func (sp *SecurityPolicy) UnmarshalText(text []byte) error {
	policy, err := ParseSecurityPolicy(string(text))
	if err != nil {
		return err
	}
	*sp = policy
	return nil
}

// HashAlgorithm names a supported digest.
type HashAlgorithm string

const HashAlgorithmSHA256 HashAlgorithm = "sha256"

// ModuleHashInfo is one whitelist entry.
type ModuleHashInfo struct {
	Name        string        `json:"name" yaml:"name"`
	Path        string        `json:"path,omitempty" yaml:"path,omitempty"`
	Algorithm   HashAlgorithm `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Hash        string        `json:"hash" yaml:"hash"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	MaxFileSize int64         `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`
	AddedAt     time.Time     `json:"added_at,omitempty" yaml:"added_at,omitempty"`
}

// ModuleWhitelist lists the authorized modules keyed by name.
type ModuleWhitelist struct {
	Version       string                    `json:"version" yaml:"version"`
	Description   string                    `json:"description,omitempty" yaml:"description,omitempty"`
	HashAlgorithm HashAlgorithm             `json:"hash_algorithm,omitempty" yaml:"hash_algorithm,omitempty"`
	Modules       map[string]ModuleHashInfo `json:"modules" yaml:"modules"`
}

// SecurityConfig configures module verification.
type SecurityConfig struct {
	Policy        SecurityPolicy `json:"policy" yaml:"policy"`
	WhitelistFile string         `json:"whitelist_file,omitempty" yaml:"whitelist_file,omitempty"`
	MaxFileSize   int64          `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`
}

// VerifierStats counts verification outcomes.
type VerifierStats struct {
	ValidationAttempts int64     `json:"validation_attempts"`
	AuthorizedLoads    int64     `json:"authorized_loads"`
	RejectedLoads      int64     `json:"rejected_loads"`
	HashMismatches     int64     `json:"hash_mismatches"`
	WhitelistReloads   int64     `json:"whitelist_reloads"`
	LastValidation     time.Time `json:"last_validation,omitempty"`
}

// WhitelistVerifier is a ModuleVerifier backed by a whitelist file. A module
// matches an entry by absolute path when the entry has one, otherwise by
// file name without extension.
//
// Example usage:
//
//	verifier, err := NewWhitelistVerifier(SecurityConfig{
//	    Policy:        SecurityPolicyStrict,
//	    WhitelistFile: "/etc/globalizer/modules.yaml",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	manager := NewModuleManager(ModuleManagerConfig{Verifier: verifier})
type WhitelistVerifier struct {
	config SecurityConfig
	logger Logger

	mu        sync.RWMutex
	whitelist *ModuleWhitelist
	stats     VerifierStats
}

// NewWhitelistVerifier loads the whitelist unless the policy is disabled.
func NewWhitelistVerifier(config SecurityConfig, logger any) (*WhitelistVerifier, error) {
	v := &WhitelistVerifier{
		config: config,
		logger: NewLogger(logger).With("component", "module_verifier"),
	}
	if config.Policy == SecurityPolicyDisabled {
		return v, nil
	}
	if err := v.ReloadWhitelist(); err != nil {
		return nil, err
	}
	return v, nil
}

// Verify authorizes the module file at path according to the policy.
func (v *WhitelistVerifier) Verify(path string) error {
	if v.config.Policy == SecurityPolicyDisabled {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats.ValidationAttempts++
	v.stats.LastValidation = timecache.CachedTime()

	reason, err := v.check(path)
	if err != nil {
		v.stats.RejectedLoads++
		return err
	}
	if reason == "" {
		v.stats.AuthorizedLoads++
		v.logger.Debug("Module authorized", "path", path)
		return nil
	}

	v.stats.RejectedLoads++
	if v.config.Policy == SecurityPolicyPermissive {
		v.logger.Warn("Module security violation (permissive mode)", "path", path, "reason", reason)
		return nil
	}
	v.logger.Error("Module rejected", "path", path, "reason", reason)
	return NewUnauthorizedModuleError(path, reason)
}

// check returns a violation reason, or "" when the module is authorized.
// Must be called with mu held.
func (v *WhitelistVerifier) check(path string) (string, error) {
	if v.whitelist == nil {
		return "", NewWhitelistError("whitelist not loaded", nil)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", NewHashValidationError(path, err)
	}
	stat, err := os.Stat(absPath)
	if err != nil {
		return "", NewHashValidationError(path, err)
	}

	entry, ok := v.lookup(absPath)
	if !ok {
		return "module not in whitelist", nil
	}

	maxSize := entry.MaxFileSize
	if maxSize == 0 {
		maxSize = v.config.MaxFileSize
	}
	if maxSize > 0 && stat.Size() > maxSize {
		return fmt.Sprintf("file size %d exceeds maximum %d", stat.Size(), maxSize), nil
	}

	actual, err := HashModuleFile(absPath)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(actual, entry.Hash) {
		v.stats.HashMismatches++
		return "hash mismatch", nil
	}
	return "", nil
}

func (v *WhitelistVerifier) lookup(absPath string) (ModuleHashInfo, bool) {
	name := strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	var byName ModuleHashInfo
	found := false
	for key, entry := range v.whitelist.Modules {
		if entry.Path != "" {
			if entryPath, err := filepath.Abs(entry.Path); err == nil && entryPath == absPath {
				return entry, true
			}
			continue
		}
		if key == name || entry.Name == name {
			byName, found = entry, true
		}
	}
	return byName, found
}

// ReloadWhitelist rereads the whitelist file.
func (v *WhitelistVerifier) ReloadWhitelist() error {
	if v.config.WhitelistFile == "" {
		return NewConfigValidationError("whitelist file path not configured", nil)
	}
	whitelist, err := LoadModuleWhitelist(v.config.WhitelistFile)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.whitelist = whitelist
	v.stats.WhitelistReloads++
	v.mu.Unlock()

	v.logger.Info("Module whitelist loaded",
		"file", v.config.WhitelistFile,
		"modules", len(whitelist.Modules),
		"version", whitelist.Version)
	return nil
}

// Policy returns the enforced policy.
func (v *WhitelistVerifier) Policy() SecurityPolicy {
	return v.config.Policy
}

// Stats returns a copy of the counters.
func (v *WhitelistVerifier) Stats() VerifierStats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stats
}

// LoadModuleWhitelist reads a JSON or YAML whitelist, chosen by extension.
func LoadModuleWhitelist(path string) (*ModuleWhitelist, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, NewWhitelistError("failed to read whitelist file", err)
	}

	var whitelist ModuleWhitelist
	switch argus.DetectFormat(path) {
	case argus.FormatYAML:
		err = yaml.Unmarshal(data, &whitelist)
	default:
		err = json.Unmarshal(data, &whitelist)
	}
	if err != nil {
		return nil, NewWhitelistError("failed to parse whitelist", err)
	}
	if err := whitelist.validate(); err != nil {
		return nil, NewWhitelistError("invalid whitelist structure", err)
	}
	return &whitelist, nil
}

func (w *ModuleWhitelist) validate() error {
	if w.Modules == nil {
		return fmt.Errorf("whitelist must contain a modules map")
	}
	if w.HashAlgorithm == "" {
		w.HashAlgorithm = HashAlgorithmSHA256
	}
	if w.HashAlgorithm != HashAlgorithmSHA256 {
		return fmt.Errorf("unsupported hash algorithm: %s", w.HashAlgorithm)
	}
	for key, entry := range w.Modules {
		if entry.Name == "" {
			entry.Name = key
		}
		if entry.Name != key {
			return fmt.Errorf("module name mismatch: key %s != name %s", key, entry.Name)
		}
		if entry.Hash == "" {
			return fmt.Errorf("module %s missing hash", key)
		}
		if entry.Algorithm == "" {
			entry.Algorithm = w.HashAlgorithm
		}
		if entry.Algorithm != HashAlgorithmSHA256 {
			return fmt.Errorf("module %s: unsupported hash algorithm %s", key, entry.Algorithm)
		}
		w.Modules[key] = entry
	}
	return nil
}

// SaveModuleWhitelist writes w as JSON or YAML, chosen by extension.
func SaveModuleWhitelist(path string, w *ModuleWhitelist) error {
	var data []byte
	var err error
	switch argus.DetectFormat(path) {
	case argus.FormatYAML:
		data, err = yaml.Marshal(w)
	default:
		data, err = json.MarshalIndent(w, "", "  ")
	}
	if err != nil {
		return NewWhitelistError("failed to encode whitelist", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return NewWhitelistError("failed to write whitelist file", err)
	}
	return nil
}

// AddModule hashes the file at path and records it under name.
func (w *ModuleWhitelist) AddModule(name, path string) (ModuleHashInfo, error) {
	hash, err := HashModuleFile(path)
	if err != nil {
		return ModuleHashInfo{}, err
	}
	if w.Modules == nil {
		w.Modules = make(map[string]ModuleHashInfo)
	}
	entry := ModuleHashInfo{
		Name:      name,
		Path:      path,
		Algorithm: HashAlgorithmSHA256,
		Hash:      hash,
		AddedAt:   timecache.CachedTime(),
	}
	w.Modules[name] = entry
	return entry, nil
}

// HashModuleFile returns the hex SHA-256 digest of a file.
func HashModuleFile(path string) (string, error) {
	file, err := os.Open(filepath.Clean(path)) // #nosec G304 - operator supplied path
	if err != nil {
		return "", NewHashValidationError(path, err)
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", NewHashValidationError(path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// catalog.go: Discovery of problem modules on the filesystem
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agilira/argus"
)

// Catalog entry kinds.
const (
	CatalogKindBuiltin  = "builtin"
	CatalogKindPlugin   = "plugin"
	CatalogKindManifest = "manifest"
)

// PluginExtension is the file extension of Go plugin modules.
const PluginExtension = ".so"

// ProblemManifest describes a ready-to-use problem in a directory.
//
// Example problem.yaml next to a script:
//
//	name: rastrigin-4d
//	description: Rastrigin written as a script
//	dimension: 4
//	scripted:
//	  module_name: rastrigin
//	  class_name: Rastrigin
//
// Module defaults to "builtin:scripted" when a scripted section is present.
// Relative module and config paths are resolved against the manifest
// directory, which is also the default script search path.
type ProblemManifest struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Module      string          `json:"module,omitempty" yaml:"module,omitempty"`
	ConfigPath  string          `json:"config_path,omitempty" yaml:"config_path,omitempty"`
	Dimension   int             `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	Parameters  []Parameter     `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Scripted    *ScriptedConfig `json:"scripted,omitempty" yaml:"scripted,omitempty"`
}

// CatalogEntry is one loadable problem.
type CatalogEntry struct {
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	Module       string          `json:"module"`
	Description  string          `json:"description,omitempty"`
	ConfigPath   string          `json:"config_path,omitempty"`
	Dimension    int             `json:"dimension,omitempty"`
	Parameters   []Parameter     `json:"parameters,omitempty"`
	Scripted     *ScriptedConfig `json:"scripted,omitempty"`
	Source       string          `json:"source,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`
}

// ProblemOptions returns the options InitProblem needs for the entry.
func (e CatalogEntry) ProblemOptions() ProblemOptions {
	config := GlobalizerConfig{
		Module: ModuleConfig{
			Path:       e.Module,
			ConfigPath: e.ConfigPath,
			Dimension:  e.Dimension,
			Parameters: e.Parameters,
		},
	}
	if e.Scripted != nil {
		config.Scripted = *e.Scripted
	}
	return config.ProblemOptions()
}

// CatalogOptions configures a ModuleCatalog.
type CatalogOptions struct {
	Dirs          []string `json:"dirs" yaml:"dirs"`
	MaxDepth      int      `json:"max_depth" yaml:"max_depth"`
	ManifestNames []string `json:"manifest_names" yaml:"manifest_names"`
	ExcludePaths  []string `json:"exclude_paths,omitempty" yaml:"exclude_paths,omitempty"`

	// Registry adds its builtin modules to every scan when set.
	Registry *ModuleRegistry `json:"-" yaml:"-"`
}

// DefaultCatalogOptions scans three levels deep for problem.{yaml,yml,json,toml}.
func DefaultCatalogOptions(dirs ...string) CatalogOptions {
	return CatalogOptions{
		Dirs:          dirs,
		MaxDepth:      3,
		ManifestNames: []string{"problem.yaml", "problem.yml", "problem.json", "problem.toml"},
	}
}

// ModuleCatalog lists the problems available to a ModuleManager: builtin
// modules, Go plugins found as *.so files and problem manifests.
type ModuleCatalog struct {
	options CatalogOptions
	logger  Logger

	mu      sync.RWMutex
	entries map[string]CatalogEntry
}

// NewModuleCatalog creates an empty catalog. Call Scan to populate it.
func NewModuleCatalog(options CatalogOptions, logger any) *ModuleCatalog {
	defaults := DefaultCatalogOptions()
	if options.MaxDepth <= 0 {
		options.MaxDepth = defaults.MaxDepth
	}
	if len(options.ManifestNames) == 0 {
		options.ManifestNames = defaults.ManifestNames
	}
	return &ModuleCatalog{
		options: options,
		logger:  NewLogger(logger).With("component", "module_catalog"),
		entries: make(map[string]CatalogEntry),
	}
}

// Scan replaces the catalog with a fresh walk of the configured sources.
// Unreadable directories and invalid manifests are logged and skipped.
// When two sources use the same name the first one found is kept.
func (c *ModuleCatalog) Scan(ctx context.Context) ([]CatalogEntry, error) {
	results := make(map[string]CatalogEntry)
	now := time.Now()

	if c.options.Registry != nil {
		for _, path := range c.options.Registry.Paths() {
			name := strings.TrimPrefix(path, BuiltinScheme)
			results[name] = CatalogEntry{Name: name, Kind: CatalogKindBuiltin, Module: path, DiscoveredAt: now}
		}
	}

	for _, dir := range c.options.Dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			c.logger.Warn("Skipping catalog directory", "dir", dir, "error", err)
			continue
		}
		if err := c.scanDirectory(ctx, abs, 0, results); err != nil {
			if ctx.Err() != nil {
				return nil, NewDiscoveryError("scan cancelled", ctx.Err())
			}
			c.logger.Warn("Failed to scan catalog directory", "dir", abs, "error", err)
		}
	}

	c.mu.Lock()
	c.entries = results
	c.mu.Unlock()

	c.logger.Info("Problem catalog scanned", "entries", len(results), "dirs", len(c.options.Dirs))
	return sortedEntries(results), nil
}

// Entries returns the entries of the last scan sorted by name.
func (c *ModuleCatalog) Entries() []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedEntries(c.entries)
}

// Lookup finds an entry by name.
func (c *ModuleCatalog) Lookup(name string) (CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[name]
	return entry, ok
}

// InitProblem loads the named entry through manager.
func (c *ModuleCatalog) InitProblem(manager *ModuleManager, name string) (Problem, error) {
	entry, ok := c.Lookup(name)
	if !ok {
		return nil, NewDiscoveryError("no catalog entry named "+name, nil)
	}
	return manager.InitProblem(entry.Module, entry.ProblemOptions())
}

func sortedEntries(m map[string]CatalogEntry) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *ModuleCatalog) scanDirectory(ctx context.Context, dir string, depth int, results map[string]CatalogEntry) error {
	if !c.shouldScanPath(dir, depth) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return NewDiscoveryError(fmt.Sprintf("failed to read directory %s", dir), err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		fullPath := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := c.scanDirectory(ctx, fullPath, depth+1, results); err != nil {
				if ctx.Err() != nil {
					return err
				}
				c.logger.Warn("Failed to scan directory", "path", fullPath, "error", err)
			}
			continue
		}
		found, ok, err := c.processFile(entry.Name(), fullPath)
		if err != nil {
			c.logger.Warn("Skipping catalog file", "path", fullPath, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if existing, dup := results[found.Name]; dup {
			c.logger.Warn("Duplicate catalog entry ignored",
				"name", found.Name, "kept", existing.Source, "ignored", found.Source)
			continue
		}
		results[found.Name] = found
		c.logger.Debug("Catalog entry found", "name", found.Name, "kind", found.Kind, "path", fullPath)
	}
	return nil
}

func (c *ModuleCatalog) shouldScanPath(path string, depth int) bool {
	if depth > c.options.MaxDepth {
		return false
	}
	for _, exclude := range c.options.ExcludePaths {
		if exclude != "" && strings.Contains(path, exclude) {
			return false
		}
	}
	return true
}

func (c *ModuleCatalog) processFile(name, fullPath string) (CatalogEntry, bool, error) {
	if strings.EqualFold(filepath.Ext(name), PluginExtension) {
		entryName := strings.TrimSuffix(name, filepath.Ext(name))
		if err := validateEntryName(entryName); err != nil {
			return CatalogEntry{}, false, err
		}
		return CatalogEntry{
			Name:         entryName,
			Kind:         CatalogKindPlugin,
			Module:       fullPath,
			Source:       fullPath,
			DiscoveredAt: time.Now(),
		}, true, nil
	}
	if !c.isManifest(name) {
		return CatalogEntry{}, false, nil
	}
	entry, err := loadManifestEntry(fullPath)
	if err != nil {
		return CatalogEntry{}, false, err
	}
	return entry, true, nil
}

func (c *ModuleCatalog) isManifest(name string) bool {
	for _, m := range c.options.ManifestNames {
		if matched, err := filepath.Match(m, name); err == nil && matched {
			return true
		}
	}
	return false
}

// LoadProblemManifest reads a manifest in any format argus detects.
func LoadProblemManifest(path string) (*ProblemManifest, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	var manifest ProblemManifest
	if err := decodeDocument(data, argus.DetectFormat(path), &manifest); err != nil {
		return nil, NewDiscoveryError("failed to parse manifest "+path, err)
	}
	if err := validateEntryName(manifest.Name); err != nil {
		return nil, err
	}
	if manifest.Dimension < 0 {
		return nil, NewDiscoveryError(fmt.Sprintf("manifest %s has negative dimension", path), nil)
	}
	if manifest.Module == "" && manifest.Scripted == nil {
		return nil, NewDiscoveryError(fmt.Sprintf("manifest %s names neither a module nor a script", path), nil)
	}
	return &manifest, nil
}

func loadManifestEntry(path string) (CatalogEntry, error) {
	manifest, err := LoadProblemManifest(path)
	if err != nil {
		return CatalogEntry{}, err
	}
	dir := filepath.Dir(path)

	entry := CatalogEntry{
		Name:         manifest.Name,
		Kind:         CatalogKindManifest,
		Module:       manifest.Module,
		Description:  manifest.Description,
		ConfigPath:   resolveRelative(dir, manifest.ConfigPath),
		Dimension:    manifest.Dimension,
		Parameters:   manifest.Parameters,
		Source:       path,
		DiscoveredAt: time.Now(),
	}
	if entry.Module == "" {
		entry.Module = BuiltinScheme + "scripted"
	} else if !IsBuiltinPath(entry.Module) {
		entry.Module = resolveRelative(dir, entry.Module)
	}
	if manifest.Scripted != nil {
		scripted := *manifest.Scripted
		if scripted.SearchPath == "" {
			scripted.SearchPath = dir
		} else {
			scripted.SearchPath = resolveRelative(dir, scripted.SearchPath)
		}
		entry.Scripted = &scripted
	}
	return entry, nil
}

func resolveRelative(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// validateEntryName rejects names that are empty or could escape a path.
func validateEntryName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewDiscoveryError("entry name is empty", nil)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return NewDiscoveryError("entry name contains path elements: "+name, nil).
			WithContext("entry_name", name)
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return NewDiscoveryError("entry name contains a control character", nil).
				WithContext("entry_name", name)
		}
	}
	if strings.ContainsAny(name, "~|&;$`(){}[]<>") {
		return NewDiscoveryError("entry name contains a shell metacharacter: "+name, nil).
			WithContext("entry_name", name)
	}
	return nil
}

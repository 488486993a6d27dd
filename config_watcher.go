// config_watcher.go: Hot reload of the loaded problem module with Argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ConfigWatcherOptions configures a ProblemConfigWatcher.
type ConfigWatcherOptions struct {
	// PollInterval is the Argus polling interval for the configuration file.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// CacheTTL bounds how long Argus caches file stat results.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// RollbackOnFailure re-initializes the previous module when the new one
	// fails to initialize.
	RollbackOnFailure bool `json:"rollback_on_failure" yaml:"rollback_on_failure"`

	// AuditConfig enables the Argus audit trail of reloads.
	AuditConfig argus.AuditConfig `json:"audit_config" yaml:"audit_config"`

	// OnReload is called after every successful module (re)initialization.
	OnReload func(config GlobalizerConfig, problem Problem) `json:"-" yaml:"-"`

	// ErrorHandler receives Argus watch errors. Errors are logged when nil.
	ErrorHandler func(err error, path string) `json:"-" yaml:"-"`
}

// DefaultConfigWatcherOptions polls every 5s, rolls back failed reloads
// and keeps no audit trail.
func DefaultConfigWatcherOptions() ConfigWatcherOptions {
	return ConfigWatcherOptions{
		PollInterval:      5 * time.Second,
		CacheTTL:          2 * time.Second,
		RollbackOnFailure: true,
	}
}

// ConfigWatcherStats counts reload outcomes.
type ConfigWatcherStats struct {
	Reloads        int64     `json:"reloads"`
	Failures       int64     `json:"failures"`
	Rollbacks      int64     `json:"rollbacks"`
	Unchanged      int64     `json:"unchanged"`
	LastReloadTime time.Time `json:"last_reload_time"`
}

// ProblemConfigWatcher keeps the module loaded in a ModuleManager in sync
// with a configuration file. Edits to the module or scripted sections load
// and initialize the new problem; other edits only replace the stored
// configuration.
//
// The watcher cannot be restarted after Stop.
//
//	watcher, err := NewProblemConfigWatcher(manager, "globalizer.yaml", DefaultConfigWatcherOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	if err := watcher.Start(ctx); err != nil {
//	    return err
//	}
//	defer watcher.Stop()
type ProblemConfigWatcher struct {
	manager     *ModuleManager
	logger      Logger
	watcher     *argus.Watcher
	auditLogger *argus.AuditLogger
	configPath  string
	options     ConfigWatcherOptions

	current atomic.Pointer[GlobalizerConfig]

	// reloadMu serializes reloads triggered by Argus and by Reload.
	reloadMu sync.Mutex

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	mutex    sync.Mutex

	reloads    atomic.Int64
	failures   atomic.Int64
	rollbacks  atomic.Int64
	unchanged  atomic.Int64
	lastReload atomic.Int64
}

// NewProblemConfigWatcher creates a watcher for configPath driving manager.
func NewProblemConfigWatcher(manager *ModuleManager, configPath string, options ConfigWatcherOptions, logger any) (*ProblemConfigWatcher, error) {
	if manager == nil {
		return nil, NewConfigWatcherError("module manager is required", nil)
	}
	if configPath == "" {
		return nil, NewConfigPathError(configPath, "empty path")
	}
	defaults := DefaultConfigWatcherOptions()
	if options.PollInterval <= 0 {
		options.PollInterval = defaults.PollInterval
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = defaults.CacheTTL
	}

	internalLogger := NewLogger(logger).With("component", "config_watcher")

	var auditLogger *argus.AuditLogger
	if options.AuditConfig.Enabled {
		var err error
		auditLogger, err = argus.NewAuditLogger(options.AuditConfig)
		if err != nil {
			return nil, NewConfigWatcherError("failed to create audit logger", err)
		}
	}

	w := &ProblemConfigWatcher{
		manager:     manager,
		logger:      internalLogger,
		auditLogger: auditLogger,
		configPath:  configPath,
		options:     options,
	}
	w.watcher = argus.New(argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      1,
		Audit:                options.AuditConfig,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, path string) {
			if options.ErrorHandler != nil {
				options.ErrorHandler(err, path)
				return
			}
			internalLogger.Error("Configuration file watching error", "error", err, "file", path)
		},
	})
	return w, nil
}

// Start loads the configuration, initializes its module and begins
// watching the file.
func (w *ProblemConfigWatcher) Start(ctx context.Context) error {
	if w.stopped.Load() {
		return NewConfigWatcherError("config watcher has been stopped and cannot be restarted", nil)
	}
	if err := ctx.Err(); err != nil {
		return NewConfigWatcherError("start cancelled", err)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.enabled.CompareAndSwap(false, true) {
		return NewConfigWatcherError("config watcher is already running", nil)
	}

	config, err := LoadConfig(w.configPath)
	if err != nil {
		w.enabled.Store(false)
		return NewConfigWatcherError("failed to load initial configuration", err)
	}
	if err := w.apply(config); err != nil {
		w.enabled.Store(false)
		return NewConfigWatcherError("failed to initialize the configured module", err)
	}
	w.current.Store(&config)

	if err := w.watcher.Watch(w.configPath, w.handleConfigChange); err != nil {
		w.enabled.Store(false)
		return NewConfigWatcherError("failed to watch configuration file", err)
	}
	if err := w.watcher.Start(); err != nil {
		w.enabled.Store(false)
		return NewConfigWatcherError("failed to start Argus watcher", err)
	}

	w.logger.Info("Configuration watcher started",
		"config_path", w.configPath,
		"module", config.Module.Path,
		"poll_interval", w.options.PollInterval)
	w.auditEvent("config_watcher_started", map[string]interface{}{
		"config_path": w.configPath,
		"module":      config.Module.Path,
	})
	return nil
}

// Stop ends watching. The loaded module stays loaded.
func (w *ProblemConfigWatcher) Stop() error {
	if w.stopped.Load() {
		return NewConfigWatcherError("config watcher is already stopped", nil)
	}

	var stopErr error
	w.stopOnce.Do(func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()

		if !w.enabled.CompareAndSwap(true, false) {
			stopErr = NewConfigWatcherError("config watcher is not running", nil)
			return
		}
		w.stopped.Store(true)

		if err := w.watcher.Stop(); err != nil {
			stopErr = NewConfigWatcherError("failed to stop Argus watcher", err)
		}
		w.auditEvent("config_watcher_stopped", map[string]interface{}{
			"config_path":    w.configPath,
			"clean_shutdown": stopErr == nil,
		})
		if w.auditLogger != nil {
			if err := w.auditLogger.Close(); err != nil {
				w.logger.Warn("Failed to close audit logger", "error", err)
			}
		}
		w.logger.Info("Configuration watcher stopped")
	})
	return stopErr
}

// IsRunning reports whether the watcher is active.
func (w *ProblemConfigWatcher) IsRunning() bool {
	return w.enabled.Load() && !w.stopped.Load()
}

// CurrentConfig returns the last configuration applied, or nil before Start.
func (w *ProblemConfigWatcher) CurrentConfig() *GlobalizerConfig {
	return w.current.Load()
}

// Reload re-reads the configuration file without waiting for Argus.
func (w *ProblemConfigWatcher) Reload() error {
	return w.reload(w.configPath)
}

// Stats returns the reload counters.
func (w *ProblemConfigWatcher) Stats() ConfigWatcherStats {
	stats := ConfigWatcherStats{
		Reloads:   w.reloads.Load(),
		Failures:  w.failures.Load(),
		Rollbacks: w.rollbacks.Load(),
		Unchanged: w.unchanged.Load(),
	}
	if nano := w.lastReload.Load(); nano > 0 {
		stats.LastReloadTime = time.Unix(0, nano)
	}
	return stats
}

func (w *ProblemConfigWatcher) handleConfigChange(event argus.ChangeEvent) {
	w.logger.Info("Configuration file change detected",
		"path", event.Path,
		"mod_time", event.ModTime,
		"size", event.Size)

	if event.IsDelete {
		w.logger.Warn("Configuration file was deleted, keeping the loaded module", "path", event.Path)
		w.auditEvent("config_file_deleted", map[string]interface{}{"path": event.Path})
		return
	}
	if err := w.reload(event.Path); err != nil {
		w.logger.Error("Configuration reload failed", "path", event.Path, "error", err)
	}
}

func (w *ProblemConfigWatcher) reload(path string) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	config, err := LoadConfig(path)
	if err != nil {
		w.failures.Add(1)
		w.auditEvent("config_load_failed", map[string]interface{}{"path": path, "error": err.Error()})
		return err
	}

	previous := w.current.Load()
	if previous != nil && !moduleSettingsChanged(*previous, config) {
		w.current.Store(&config)
		w.unchanged.Add(1)
		w.logger.Debug("Module settings unchanged, configuration replaced", "path", path)
		return nil
	}

	if err := w.apply(config); err != nil {
		w.failures.Add(1)
		w.auditEvent("module_reload_failed", map[string]interface{}{
			"path":   path,
			"module": config.Module.Path,
			"error":  err.Error(),
		})
		if w.options.RollbackOnFailure && previous != nil && previous.Module.Path != "" {
			if rbErr := w.apply(*previous); rbErr != nil {
				w.logger.Error("Rollback to the previous module failed", "module", previous.Module.Path, "error", rbErr)
				return NewConfigWatcherError("reload and rollback failed", err)
			}
			w.rollbacks.Add(1)
			w.logger.Warn("Rolled back to the previous module", "module", previous.Module.Path, "error", err)
			w.auditEvent("module_rolled_back", map[string]interface{}{"module": previous.Module.Path})
		}
		return err
	}

	w.current.Store(&config)
	w.reloads.Add(1)
	w.lastReload.Store(time.Now().UnixNano())

	oldModule := ""
	if previous != nil {
		oldModule = previous.Module.Path
	}
	w.logger.Info("Problem module reloaded", "old_module", oldModule, "new_module", config.Module.Path)
	w.auditEvent("module_reloaded", map[string]interface{}{
		"path":       path,
		"old_module": oldModule,
		"new_module": config.Module.Path,
		"dimension":  config.Module.Dimension,
	})
	return nil
}

// apply initializes the configured module, or unloads when none is named.
func (w *ProblemConfigWatcher) apply(config GlobalizerConfig) error {
	if config.Module.Path == "" {
		return w.manager.Unload()
	}
	problem, err := w.manager.InitProblem(config.Module.Path, config.ProblemOptions())
	if err != nil {
		return err
	}
	if w.options.OnReload != nil {
		w.options.OnReload(config, problem)
	}
	return nil
}

func moduleSettingsChanged(old, updated GlobalizerConfig) bool {
	return !reflect.DeepEqual(old.Module, updated.Module) || old.Scripted != updated.Scripted
}

func (w *ProblemConfigWatcher) auditEvent(eventType string, fields map[string]interface{}) {
	if w.auditLogger == nil {
		return
	}
	w.auditLogger.LogSecurityEvent(eventType, "problem configuration event", fields)
}

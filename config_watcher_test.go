// config_watcher_test.go: tests for hot reload of the configured problem module
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agilira/argus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatcherFixture(t *testing.T, initial string) (*ProblemConfigWatcher, *ModuleManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "globalizer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(initial), 0600))

	logger := NewTestLogger()
	manager := NewModuleManager(ModuleManagerConfig{Logger: logger})
	t.Cleanup(func() { _ = manager.Close() })

	options := DefaultConfigWatcherOptions()
	options.PollInterval = 50 * time.Millisecond
	watcher, err := NewProblemConfigWatcher(manager, path, options, logger)
	require.NoError(t, err)
	return watcher, manager, path
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestProblemConfigWatcher_ReloadLifecycle(t *testing.T) {
	watcher, manager, path := newWatcherFixture(t, "module:\n  path: builtin:rastrigin\n  dimension: 2\n")

	require.NoError(t, watcher.Start(context.Background()))
	assert.True(t, watcher.IsRunning())
	require.NotNil(t, manager.GetProblem())
	assert.Equal(t, 2, manager.GetProblem().GetDimension())
	assert.Equal(t, 2, watcher.CurrentConfig().Module.Dimension)

	// Module change: the problem is replaced.
	rewrite(t, path, "module:\n  path: builtin:rastrigin\n  dimension: 3\n")
	require.NoError(t, watcher.Reload())
	assert.Equal(t, 3, manager.GetProblem().GetDimension())
	assert.Equal(t, int64(1), watcher.Stats().Reloads)
	assert.False(t, watcher.Stats().LastReloadTime.IsZero())

	// Unrelated change: the instance is kept.
	instance := manager.GetProblem()
	rewrite(t, path, "logging:\n  level: debug\nmodule:\n  path: builtin:rastrigin\n  dimension: 3\n")
	require.NoError(t, watcher.Reload())
	assert.Same(t, instance, manager.GetProblem())
	assert.Equal(t, "debug", watcher.CurrentConfig().Logging.Level)
	assert.Equal(t, int64(1), watcher.Stats().Unchanged)

	require.NoError(t, watcher.Stop())
	assert.False(t, watcher.IsRunning())
	assert.Error(t, watcher.Stop())
	assert.Error(t, watcher.Start(context.Background()))

	// Stopping the watcher leaves the module loaded.
	assert.True(t, manager.IsLoaded())
}

func TestProblemConfigWatcher_RollbackOnFailure(t *testing.T) {
	watcher, manager, path := newWatcherFixture(t, "module:\n  path: builtin:x2\n  dimension: 1\n")
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	rewrite(t, path, "module:\n  path: builtin:not_registered\n")
	err := watcher.Reload()
	require.Error(t, err)

	assert.Equal(t, "builtin:x2", manager.Path())
	assert.Equal(t, "builtin:x2", watcher.CurrentConfig().Module.Path)
	stats := watcher.Stats()
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, int64(1), stats.Rollbacks)

	// Initialization failures roll back too.
	rewrite(t, path, "module:\n  path: builtin:x2\n  dimension: 500\n")
	require.Error(t, watcher.Reload())
	assert.Equal(t, "builtin:x2", manager.Path())
	assert.Equal(t, 1, manager.GetProblem().GetDimension())
	assert.Equal(t, int64(2), watcher.Stats().Rollbacks)
}

func TestProblemConfigWatcher_InvalidFileKeepsModule(t *testing.T) {
	watcher, manager, path := newWatcherFixture(t, "module:\n  path: builtin:rastrigin\n")
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	rewrite(t, path, "module: [broken\n")
	err := watcher.Reload()
	assert.True(t, HasErrorCode(err, ErrCodeConfigParseError), "got %v", err)
	assert.True(t, manager.IsLoaded())
	assert.Equal(t, int64(1), watcher.Stats().Failures)
	assert.Equal(t, int64(0), watcher.Stats().Rollbacks)
}

func TestProblemConfigWatcher_DeleteEventIgnored(t *testing.T) {
	watcher, manager, path := newWatcherFixture(t, "module:\n  path: builtin:rastrigin\n")
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	watcher.handleConfigChange(argus.ChangeEvent{Path: path, IsDelete: true})
	assert.True(t, manager.IsLoaded())
	assert.Equal(t, ConfigWatcherStats{}, watcher.Stats())
}

func TestProblemConfigWatcher_DetectsFileChanges(t *testing.T) {
	watcher, manager, path := newWatcherFixture(t, "module:\n  path: builtin:rastrigin\n  dimension: 2\n")
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	// Make sure the modification time moves on coarse filesystems.
	time.Sleep(20 * time.Millisecond)
	rewrite(t, path, "module:\n  path: builtin:rastrigin\n  dimension: 6\n")
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool {
		p := manager.GetProblem()
		return p != nil && p.GetDimension() == 6
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewProblemConfigWatcher_Errors(t *testing.T) {
	_, err := NewProblemConfigWatcher(nil, "globalizer.yaml", DefaultConfigWatcherOptions(), nil)
	assert.True(t, HasErrorCode(err, ErrCodeConfigWatcherError), "got %v", err)

	_, err = NewProblemConfigWatcher(NewModuleManager(ModuleManagerConfig{}), "", DefaultConfigWatcherOptions(), nil)
	assert.True(t, HasErrorCode(err, ErrCodeConfigPathError), "got %v", err)

	watcher, err := NewProblemConfigWatcher(NewModuleManager(ModuleManagerConfig{}),
		filepath.Join(t.TempDir(), "absent.yaml"), DefaultConfigWatcherOptions(), nil)
	require.NoError(t, err)
	err = watcher.Start(context.Background())
	assert.True(t, HasErrorCode(err, ErrCodeConfigWatcherError), "got %v", err)
	assert.False(t, watcher.IsRunning())
}

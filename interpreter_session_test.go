// interpreter_session_test.go: session lifecycle, access token and module loading tests
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

const scriptDir = "testdata/scripts"

func TestInterpreterSession_RetainReleaseLifecycle(t *testing.T) {
	session := NewInterpreterSession(NewTestLogger())

	_, err := session.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeInterpreterFinalized), "no runtime before the first retain")

	session.retain("first")
	session.retain("second")
	stats := session.Stats()
	assert.True(t, stats.Initialized)
	assert.Equal(t, 2, stats.References)
	assert.Equal(t, "first", stats.Owner)
	assert.Equal(t, int64(1), stats.Initializations)

	assert.False(t, stats.FinalizeDeferred)

	// The owner releasing first defers finalization to the last holder.
	session.release("first")
	stats = session.Stats()
	assert.True(t, stats.Initialized)
	assert.True(t, stats.FinalizeDeferred)
	assert.Equal(t, "first", stats.Owner)
	assert.Equal(t, int64(0), stats.Finalizations)

	session.release("second")
	stats = session.Stats()
	assert.False(t, stats.Initialized)
	assert.False(t, stats.FinalizeDeferred)
	assert.Empty(t, stats.Owner)
	assert.Equal(t, int64(1), stats.Finalizations)

	// An unmatched release is ignored.
	session.release("ghost")
	assert.Equal(t, int64(1), session.Stats().Finalizations)

	// A new retain starts a fresh generation; an owner releasing last
	// finalizes directly.
	session.retain("third")
	assert.Equal(t, int64(2), session.Stats().Initializations)
	assert.Equal(t, "third", session.Stats().Owner)
	session.release("third")
	assert.False(t, session.Stats().FinalizeDeferred)
	assert.Equal(t, int64(2), session.Stats().Finalizations)
}

func TestInterpreterSession_AccessIsExclusive(t *testing.T) {
	session := NewInterpreterSession(nil)
	session.retain("test")
	defer session.release("test")

	token, err := session.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = session.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeAccessCancelled))

	token.Release()
	token.Release()

	second, err := session.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, token.Thread(), second.Thread(), "the same main thread is handed around")
	second.Release()
}

func TestInterpreterSession_ImportFromSearchPath(t *testing.T) {
	session := NewInterpreterSession(nil)
	require.NoError(t, session.AddSearchPath(scriptDir))
	require.NoError(t, session.AddSearchPath(scriptDir))
	assert.Len(t, session.SearchPath(), 1)

	session.retain("test")
	defer session.release("test")

	token, err := session.Acquire(context.Background())
	require.NoError(t, err)
	defer token.Release()

	globals, err := token.Import("mixed")
	require.NoError(t, err)
	assert.Contains(t, globals, "Mixed")
	assert.Contains(t, globals, "square", "load() binds helpers into the module")

	again, err := token.Import("mixed.star")
	require.NoError(t, err)
	assert.Equal(t, globals, again, "modules are cached per generation")

	_, err = token.Import("does_not_exist")
	assert.Error(t, err)

	_, err = token.Import("broken")
	assert.Error(t, err)

	_, err = token.Import("../escape")
	assert.Error(t, err)
}

func TestInterpreterSession_EmbeddedAdapterAndOverride(t *testing.T) {
	session := NewInterpreterSession(nil)
	session.retain("test")
	defer session.release("test")

	token, err := session.Acquire(context.Background())
	require.NoError(t, err)
	globals, err := token.Import(AdapterModuleName)
	require.NoError(t, err)
	assert.Contains(t, globals, AdapterConstructor)
	token.Release()

	dir := t.TempDir()
	override := "def GlobalizerProblem(problem):\n    return \"overridden\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, AdapterModuleName+ScriptExtension), []byte(override), 0o600))

	other := NewInterpreterSession(nil)
	require.NoError(t, other.AddSearchPath(dir))
	other.retain("test")
	defer other.release("test")

	token, err = other.Acquire(context.Background())
	require.NoError(t, err)
	defer token.Release()
	globals, err = token.Import(AdapterModuleName)
	require.NoError(t, err)
	v, err := token.Call(context.Background(), globals[AdapterConstructor], starlark.Tuple{starlark.None}, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("overridden"), v)
}

func TestInterpreterSession_CallCancellation(t *testing.T) {
	session := NewInterpreterSession(nil)
	require.NoError(t, session.AddSearchPath(scriptDir))
	session.retain("test")
	defer session.release("test")

	token, err := session.Acquire(context.Background())
	require.NoError(t, err)
	defer token.Release()

	sleep := starlark.NewBuiltin("sleep", scriptSleep)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = token.Call(ctx, sleep, starlark.Tuple{starlark.MakeInt(5000)}, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The thread is usable again once the call returned.
	v, err := token.Call(context.Background(), sleep, starlark.Tuple{starlark.MakeInt(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.None, v)
}

func TestInterpreterSession_FinalizeWaitsForToken(t *testing.T) {
	session := NewInterpreterSession(nil)
	session.retain("only")

	token, err := session.Acquire(context.Background())
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		session.release("only")
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("finalization must wait for the main thread to be returned")
	case <-time.After(50 * time.Millisecond):
	}

	token.Release()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("finalization did not complete")
	}
	assert.False(t, session.Stats().Initialized)
}

func TestProcessSession_IsShared(t *testing.T) {
	assert.Same(t, ProcessSession(), ProcessSession())
	assert.NotEmpty(t, ProcessSession().ID())
}

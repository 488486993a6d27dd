// interpreter_session.go: Process-wide embedded scripting runtime with reference counting and exclusive access
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkjson"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// AdapterModuleName is the script module providing GlobalizerProblem. An
// embedded copy is used unless a file with this name is on the search path.
const AdapterModuleName = "globalizer_problem"

// ScriptExtension is the file extension of script modules.
const ScriptExtension = ".star"

//go:embed globalizer_problem.star
var adapterSource string

const threadContextKey = "globalizer.context"

var scriptFileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	Recursion:       true,
}

// InterpreterSession is the embedded runtime state shared by every bridge.
//
// The first bridge to retain the session initializes it and is recorded as
// owner. Finalization belongs to the owner: when the owner releases while
// other bridges still hold references, finalization is deferred and the
// last bridge to release performs it on the owner's behalf. Either way the
// session is finalized exactly once, after the main thread has been taken
// back from whoever held it last. A later retain starts a fresh generation.
//
// All runtime entry goes through Acquire: the session owns a single
// *starlark.Thread passed around through a channel of capacity one, so at
// most one goroutine executes script code at a time.
type InterpreterSession struct {
	id     string
	logger Logger

	mu          sync.Mutex
	refs        int
	owner       string
	deferred    bool
	initialized bool
	access      chan *starlark.Thread
	done        chan struct{}
	predeclared starlark.StringDict

	// modules is only touched while holding the access token.
	modules map[string]*scriptModule

	pathMu     sync.RWMutex
	searchPath []string

	initializations atomic.Int64
	finalizations   atomic.Int64
}

type scriptModule struct {
	globals starlark.StringDict
	err     error
	loading bool
}

// SessionStats is a snapshot of session state.
type SessionStats struct {
	ID              string   `json:"id"`
	Initialized     bool     `json:"initialized"`
	References      int      `json:"references"`
	Owner           string   `json:"owner,omitempty"`
	Initializations int64    `json:"initializations"`
	Finalizations   int64    `json:"finalizations"`
	SearchPath      []string `json:"search_path"`

	// FinalizeDeferred is set once the owner has released while other
	// bridges still hold references.
	FinalizeDeferred bool `json:"finalize_deferred"`
}

var processSession = sync.OnceValue(func() *InterpreterSession {
	return NewInterpreterSession(nil)
})

// ProcessSession returns the session shared by the whole process.
func ProcessSession() *InterpreterSession {
	return processSession()
}

// NewInterpreterSession creates an independent session. Most callers want
// ProcessSession; separate sessions are useful for isolation in tests.
func NewInterpreterSession(logger any) *InterpreterSession {
	id := uuid.NewString()
	return &InterpreterSession{
		id:     id,
		logger: NewLogger(logger).With("component", "interpreter_session", "session_id", id),
	}
}

// ID returns the session identifier.
func (s *InterpreterSession) ID() string {
	return s.id
}

// AddSearchPath appends dir to the module search path if not present.
func (s *InterpreterSession) AddSearchPath(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return NewConfigurationError(dir, "invalid search path", err)
	}
	s.pathMu.Lock()
	defer s.pathMu.Unlock()
	for _, existing := range s.searchPath {
		if existing == abs {
			return nil
		}
	}
	s.searchPath = append(s.searchPath, abs)
	return nil
}

// SearchPath returns a copy of the module search path.
func (s *InterpreterSession) SearchPath() []string {
	s.pathMu.RLock()
	defer s.pathMu.RUnlock()
	return append([]string(nil), s.searchPath...)
}

// Stats returns a snapshot of the session.
func (s *InterpreterSession) Stats() SessionStats {
	s.mu.Lock()
	stats := SessionStats{
		ID:          s.id,
		Initialized: s.initialized,
		References:  s.refs,
		Owner:       s.owner,

		FinalizeDeferred: s.deferred,
	}
	s.mu.Unlock()
	stats.Initializations = s.initializations.Load()
	stats.Finalizations = s.finalizations.Load()
	stats.SearchPath = s.SearchPath()
	return stats
}

// retain adds a reference for bridgeID, initializing the runtime on the
// 0 to 1 transition.
func (s *InterpreterSession) retain(bridgeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		s.initializeLocked()
		s.owner = bridgeID
	}
	s.refs++
	s.logger.Debug("Session retained", "bridge_id", bridgeID, "references", s.refs)
}

func (s *InterpreterSession) initializeLocked() {
	thread := &starlark.Thread{Name: "globalizer-main"}
	thread.Print = func(_ *starlark.Thread, msg string) {
		s.logger.Info("Script output", "message", msg)
	}
	thread.Load = s.loadModule

	s.predeclared = starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"math":   starlarkmath.Module,
		"time":   starlarktime.Module,
		"json":   starlarkjson.Module,
		"sleep":  starlark.NewBuiltin("sleep", scriptSleep),
	}
	s.modules = make(map[string]*scriptModule)
	s.access = make(chan *starlark.Thread, 1)
	s.access <- thread
	s.done = make(chan struct{})
	s.initialized = true
	s.initializations.Add(1)
	s.logger.Info("Interpreter session initialized")
}

// release drops the reference held by bridgeID and finalizes the session
// when none remain.
func (s *InterpreterSession) release(bridgeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		s.logger.Warn("Session release without matching retain", "bridge_id", bridgeID)
		return
	}
	s.refs--
	isOwner := bridgeID == s.owner
	s.logger.Debug("Session released", "bridge_id", bridgeID, "references", s.refs, "owner", isOwner)
	if s.refs > 0 {
		if isOwner {
			s.deferred = true
			s.logger.Info("Session owner released, finalization deferred",
				"owner", bridgeID,
				"references", s.refs)
		}
		return
	}

	// Take the main thread back before tearing down.
	thread := <-s.access
	thread.Cancel("interpreter session finalized")
	close(s.done)

	s.modules = nil
	s.predeclared = nil
	s.access = nil
	owner, deferred := s.owner, s.deferred
	s.owner = ""
	s.deferred = false
	s.initialized = false
	s.finalizations.Add(1)
	s.logger.Info("Interpreter session finalized",
		"owner", owner,
		"finalized_by", bridgeID,
		"deferred", deferred)
}

// Acquire waits for exclusive access to the runtime. The token must be
// released on every path. ctx cancellation aborts the wait.
func (s *InterpreterSession) Acquire(ctx context.Context) (*AccessToken, error) {
	s.mu.Lock()
	access, done, ok := s.access, s.done, s.initialized
	s.mu.Unlock()
	if !ok {
		return nil, NewInterpreterFinalizedError(s.id)
	}

	select {
	case thread := <-access:
		thread.Uncancel()
		return &AccessToken{session: s, thread: thread, access: access}, nil
	case <-done:
		return nil, NewInterpreterFinalizedError(s.id)
	case <-ctx.Done():
		return nil, NewAccessCancelledError(ctx.Err())
	}
}

// AccessToken grants exclusive use of the session's main thread.
type AccessToken struct {
	session *InterpreterSession
	thread  *starlark.Thread
	access  chan *starlark.Thread
	once    sync.Once
}

// Thread returns the runtime thread owned by the token holder.
func (t *AccessToken) Thread() *starlark.Thread {
	return t.thread
}

// Release hands the thread back. Calling it more than once is safe.
func (t *AccessToken) Release() {
	t.once.Do(func() {
		t.thread.SetLocal(threadContextKey, nil)
		t.access <- t.thread
	})
}

// Call invokes fn on the token's thread. If ctx is cancelled the running
// script is interrupted.
func (t *AccessToken) Call(ctx context.Context, fn starlark.Value, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		t.thread.Cancel(context.Cause(ctx).Error())
	})
	t.thread.SetLocal(threadContextKey, ctx)
	defer func() {
		if !stop() {
			<-fired
		}
		t.thread.Uncancel()
	}()
	return starlark.Call(t.thread, fn, args, kwargs)
}

// Import loads module name (without extension) through the search path and
// caches its globals for the lifetime of the session generation.
func (t *AccessToken) Import(name string) (starlark.StringDict, error) {
	return t.session.loadModule(t.thread, name)
}

func (s *InterpreterSession) loadModule(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	name := strings.TrimSuffix(module, ScriptExtension)
	if entry, ok := s.modules[name]; ok {
		if entry.loading {
			return nil, fmt.Errorf("cycle in load graph at module %q", name)
		}
		return entry.globals, entry.err
	}

	filename, src, err := s.findModule(name)
	if err != nil {
		return nil, err
	}

	entry := &scriptModule{loading: true}
	s.modules[name] = entry
	entry.globals, entry.err = starlark.ExecFileOptions(scriptFileOptions, thread, filename, src, s.predeclared)
	entry.loading = false
	if entry.err != nil {
		s.logger.Error("Script module failed to load",
			"module", name,
			"file", filename,
			"backtrace", scriptBacktrace(entry.err))
	} else {
		s.logger.Debug("Script module loaded", "module", name, "file", filename)
	}
	return entry.globals, entry.err
}

func (s *InterpreterSession) findModule(name string) (string, []byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", nil, fmt.Errorf("invalid module name %q", name)
	}
	for _, dir := range s.SearchPath() {
		candidate := filepath.Join(dir, name+ScriptExtension)
		src, err := os.ReadFile(candidate) // #nosec G304 -- search path is configured by the host
		if err == nil {
			return candidate, src, nil
		}
		if !stderrors.Is(err, os.ErrNotExist) {
			return "", nil, err
		}
	}
	if name == AdapterModuleName {
		return "<embedded>/" + AdapterModuleName + ScriptExtension, []byte(adapterSource), nil
	}
	return "", nil, fmt.Errorf("module %q not found on search path %v", name, s.SearchPath())
}

// scriptSleep blocks for the given number of milliseconds, returning early
// with an error if the calling context is cancelled.
func scriptSleep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var arg starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &arg); err != nil {
		return nil, err
	}
	ms, ok := starlark.AsFloat(arg)
	if !ok || ms < 0 {
		return nil, fmt.Errorf("%s: want non-negative number of milliseconds, got %s", b.Name(), arg.String())
	}
	ctx, _ := thread.Local(threadContextKey).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return starlark.None, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", b.Name(), ctx.Err())
	}
}

// scriptBacktrace returns the script call stack for runtime errors and the
// plain message otherwise.
func scriptBacktrace(err error) string {
	var evalErr *starlark.EvalError
	if stderrors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// logging.go: Pluggable structured logging for problem modules and the scripting bridge
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

type loggerContextKey string

const loggerKey loggerContextKey = "globalizer.logger"

// Logger is the logging surface used by the module manager, the interpreter
// session and every bridge. Arguments after the message are key-value pairs.
//
// Any structured logger can be plugged in by implementing these five
// methods. NewSlogLogger adapts a *slog.Logger, which is what the
// command-line tool uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a logger that prepends args to every subsequent call.
	With(args ...any) Logger
}

// NewLogger normalizes the logger argument accepted by constructors.
//
// Supported types:
//   - Logger: used directly
//   - *slog.Logger: wrapped with NewSlogLogger
//   - nil: NoOpLogger
//
// Any other type panics, since it is a programming error at the call site.
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case *slog.Logger:
		if l == nil {
			return NewNoOpLogger()
		}
		return NewSlogLogger(l)
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected Logger, *slog.Logger or nil")
	}
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Debug(msg string, args ...any) {}
func (n *NoOpLogger) Info(msg string, args ...any)  {}
func (n *NoOpLogger) Warn(msg string, args ...any)  {}
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With returns the receiver; a no-op logger carries no context.
func (n *NoOpLogger) With(args ...any) Logger {
	return n
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// NewSlogLoggerFromOptions builds a slog-backed Logger writing to w.
// format is "json" or "text"; level is one of debug, info, warn, error.
func NewSlogLoggerFromOptions(w io.Writer, format, level string) *SlogLogger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return NewSlogLogger(slog.New(handler))
}

// ParseLogLevel maps a textual level to slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *SlogLogger) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }
func (s *SlogLogger) Info(msg string, args ...any)  { s.logger.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.logger.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func (s *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: s.logger.With(args...)}
}

// Slog exposes the wrapped logger.
func (s *SlogLogger) Slog() *slog.Logger {
	return s.logger
}

// TestLogger captures messages for assertions in tests.
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage represents a captured log message.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{
		Messages: make([]TestLogMessage, 0),
	}
}

func (t *TestLogger) record(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{Level: level, Message: msg, Args: args})
}

func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }
func (t *TestLogger) Info(msg string, args ...any)  { t.record("INFO", msg, args) }
func (t *TestLogger) Warn(msg string, args ...any)  { t.record("WARN", msg, args) }
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With returns a child that records into the same message list.
func (t *TestLogger) With(args ...any) Logger {
	return &testLoggerChild{parent: t, context: append([]any(nil), args...)}
}

// HasMessage reports whether a message with the exact level and text was captured.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// CountLevel returns how many messages were captured at level.
func (t *TestLogger) CountLevel(level string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, msg := range t.Messages {
		if msg.Level == level {
			n++
		}
	}
	return n
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}

type testLoggerChild struct {
	parent  *TestLogger
	context []any
}

func (c *testLoggerChild) args(args []any) []any {
	return append(append([]any(nil), c.context...), args...)
}

func (c *testLoggerChild) Debug(msg string, args ...any) { c.parent.record("DEBUG", msg, c.args(args)) }
func (c *testLoggerChild) Info(msg string, args ...any)  { c.parent.record("INFO", msg, c.args(args)) }
func (c *testLoggerChild) Warn(msg string, args ...any)  { c.parent.record("WARN", msg, c.args(args)) }
func (c *testLoggerChild) Error(msg string, args ...any) { c.parent.record("ERROR", msg, c.args(args)) }

func (c *testLoggerChild) With(args ...any) Logger {
	return &testLoggerChild{parent: c.parent, context: c.args(args)}
}

// DefaultLogger returns the logger used when callers pass nil.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}

// LoggerFromContext extracts a logger from ctx, falling back to DefaultLogger.
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

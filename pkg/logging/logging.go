// Package logging provides the gateway's structured logging facade over
// log/slog: package-level functions keyed by subsystem name, plus an
// AuditEvent type for security-sensitive operations (credential fetches,
// circuit-breaker trips) that must never leak the secret itself.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	defaultLogger *slog.Logger

	// subsystemLoggers memoizes the per-subsystem child logger built via
	// defaultLogger.With(...), so repeated Debug/Info/Warn/Error calls for
	// the same subsystem don't re-append the same attr on every call.
	subsystemLoggers sync.Map // string -> *slog.Logger
)

// Init initializes the logger. format "json" selects a JSON handler (for
// log aggregation pipelines); anything else selects the text handler.
func Init(level LogLevel, format string, output io.Writer) {
	opts := &slog.HandlerOptions{Level: level.SlogLevel()}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	subsystemLoggers = sync.Map{}
}

func init() {
	// Sane default so packages that log before Init is called (e.g. in
	// tests) don't panic on a nil logger.
	Init(LevelInfo, "text", os.Stderr)
}

// loggerFor returns the memoized subsystem-scoped logger, building it on
// first use.
func loggerFor(subsystem string) *slog.Logger {
	if cached, ok := subsystemLoggers.Load(subsystem); ok {
		return cached.(*slog.Logger)
	}
	l := defaultLogger.With(slog.String("subsystem", subsystem))
	actual, _ := subsystemLoggers.LoadOrStore(subsystem, l)
	return actual.(*slog.Logger)
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	logger := loggerFor(subsystem)
	if err != nil {
		logger.Log(context.Background(), level.SlogLevel(), msg, slog.String("error", err.Error()))
		return
	}
	logger.Log(context.Background(), level.SlogLevel(), msg)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message. Unlike Debug/Info/Warn it takes an explicit
// error, which is never a credential value — callers must pass a
// reference-only error (see internal/secrets).
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// TruncateSessionID returns a truncated session ID for secure logging:
// first 8 chars + "..." so correlation is possible without leaking the
// full token.
func TruncateSessionID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8] + "..."
}

// AuditEvent is a structured audit log event for security-sensitive
// operations, collectible by external audit pipelines.
type AuditEvent struct {
	Action    string
	Outcome   string // "success" or "failure"
	SessionID string
	Target    string
	Details   string
	Error     string
}

// auditAttrs returns event's non-empty fields as slog attrs, in the fixed
// order the [AUDIT] summary line renders them.
func (event AuditEvent) auditAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 5)
	attrs = append(attrs, slog.String("action", event.Action), slog.String("outcome", event.Outcome))
	for _, f := range []struct {
		key, val string
	}{
		{"session", event.SessionID},
		{"target", event.Target},
		{"details", event.Details},
		{"error", event.Error},
	} {
		if f.val != "" {
			attrs = append(attrs, slog.String(f.key, f.val))
		}
	}
	return attrs
}

// Audit logs a structured [AUDIT] event at INFO level, both as slog attrs
// (for log-aggregation queries) and as a single grep-able summary line.
//
// Example output:
// [AUDIT] action=backend_start outcome=success session=abc12345... target=github
func Audit(event AuditEvent) {
	if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), slog.LevelInfo) {
		return
	}

	attrs := event.auditAttrs()
	summary := make([]byte, 0, 128)
	summary = append(summary, "[AUDIT]"...)
	for _, a := range attrs {
		summary = append(summary, ' ')
		summary = append(summary, a.Key...)
		summary = append(summary, '=')
		summary = append(summary, a.Value.String()...)
	}

	anyAttrs := make([]any, len(attrs))
	for i, a := range attrs {
		anyAttrs[i] = a
	}
	loggerFor("AUDIT").Info(string(summary), anyAttrs...)
}

// Enabled reports whether the given level would currently be logged, so
// callers can skip expensive formatting work.
func Enabled(level LogLevel) bool {
	return defaultLogger != nil && defaultLogger.Enabled(context.Background(), level.SlogLevel())
}

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LogLevel defines the severity of a log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy fmt.Stringer.
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

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Init configures the package-level logger. Call once at startup, before any
// subsystem starts logging.
func Init(level LogLevel, output io.Writer) {
	defaultLogger = slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: level.slogLevel(),
	}))
}

func logInternal(level LogLevel, subsystem string, err error, msg string, args ...any) {
	if !defaultLogger.Enabled(context.Background(), level.slogLevel()) {
		return
	}
	attrs := make([]slog.Attr, 0, 2)
	attrs = append(attrs, slog.String("subsystem", subsystem))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	defaultLogger.LogAttrs(context.Background(), level.slogLevel(), msg, attrs...)
}

// Debug logs a debug-level message for the given subsystem.
func Debug(subsystem, msg string, args ...any) { logInternal(LevelDebug, subsystem, nil, msg, args...) }

// Info logs an info-level message for the given subsystem.
func Info(subsystem, msg string, args ...any) { logInternal(LevelInfo, subsystem, nil, msg, args...) }

// Warn logs a warning-level message for the given subsystem.
func Warn(subsystem, msg string, args ...any) { logInternal(LevelWarn, subsystem, nil, msg, args...) }

// Error logs an error-level message for the given subsystem, attaching err.
func Error(subsystem string, err error, msg string, args ...any) {
	logInternal(LevelError, subsystem, err, msg, args...)
}

// AuditEvent is a structured record of a security-sensitive action: token
// issuance, refresh, revocation, or dump/restore. It never carries a raw
// token value.
type AuditEvent struct {
	Action string // e.g. "token_refresh", "token_stored", "token_revoked"
	Account string
	Outcome string // "success" or "failure"
	Detail string
	Err error
}

// Audit logs a structured audit event at info level (warn if it failed).
func Audit(e AuditEvent) {
	level := LevelInfo
	if e.Outcome != "success" {
		level = LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("subsystem", "audit"),
		slog.String("action", e.Action),
		slog.String("account", e.Account),
		slog.String("outcome", e.Outcome),
	}
	if e.Detail != "" {
		attrs = append(attrs, slog.String("detail", e.Detail))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), level.slogLevel(), "SECURITY_AUDIT", attrs...)
}

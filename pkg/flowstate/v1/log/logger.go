// Package log defines the public logging interface used across flowstate packages.
package log

import (
	"context"
	"log/slog"
)

// Logger defines the public interface for logging operations within flowstate.
// It allows library consumers and internal components to plug in different
// logging implementations consistently. It mirrors common structured-logging
// patterns found in libraries like slog.
type Logger interface {
	// Debugf logs a formatted message at the DEBUG level.
	// Arguments are handled in the manner of fmt.Sprintf.
	Debugf(format string, args ...interface{})
	// Infof logs a formatted message at the INFO level.
	Infof(format string, args ...interface{})
	// Warnf logs a formatted message at the WARN level.
	Warnf(format string, args ...interface{})
	// Errorf logs a formatted message at the ERROR level. Implementations are
	// encouraged to check whether the last argument is an error and log it
	// structurally.
	Errorf(format string, args ...interface{})

	// Log logs a message at the specified slog.Level with additional key-value
	// attributes. This is the primary method for structured logging.
	Log(level slog.Level, msg string, args ...interface{})
	// LogCtx logs a message at the specified slog.Level, potentially including
	// context information like trace IDs if supported by the implementation.
	LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{})

	// With returns a new Logger instance with the specified attributes added to
	// all subsequent log entries.
	With(args ...interface{}) Logger
	// IsEnabled reports whether the logger emits logs at the given level.
	IsEnabled(level slog.Level) bool
}

// Package logger provides the structured loggers used across poolman.
// Each pool logs through its own sinks; the package-level Logger covers
// process-wide events such as startup, config reloads and shutdown.
package logger

import (
	"log/slog"
)

// Logger is the process-wide logger, configured from LOG_* variables
var Logger *slog.Logger = NewLogger(LoadConfig())

// Info logs a process event
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a recoverable process problem
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs a process failure to the error writer
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

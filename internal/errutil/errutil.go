// Package errutil centralizes how best-effort errors are logged and how fatal
// errors are rendered for humans.
package errutil

import (
	"log/slog"
)

// LogMsg logs the error as a warning with a custom message if it is not nil.
// Use it for cleanup failures that must not change the outcome.
func LogMsg(err error, msg string, args ...any) {
	if err != nil {
		allArgs := append([]any{"error", err}, args...)
		slog.Warn(msg, allArgs...)
	}
}

// ReportError logs an unexpected error at error level if it is not nil.
func ReportError(err error, msg string, args ...any) {
	if err != nil {
		allArgs := append([]any{"error", err}, args...)
		slog.Error(msg, allArgs...)
	}
}

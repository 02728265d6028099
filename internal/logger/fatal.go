package logger

import (
	"log/slog"
	"os"
)

// Fatal logs msg at error level and exits 1 — used for startup failures
// spec.md §7 says should terminate the process (e.g. failing to prepare the
// cache root), unlike every other error class the proxy handles in place.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

// FatalWithLogger is Fatal against an explicit logger, for use before
// slog.SetDefault has run.
func FatalWithLogger(base *slog.Logger, msg string, args ...any) {
	base.Error(msg, args...)
	os.Exit(1)
}

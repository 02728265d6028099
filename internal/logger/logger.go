// Package logger builds the process-wide slog.Logger the way
// thushan/olla's internal/logger does: pterm-coloured terminal output (or
// JSON when stdout isn't a TTY), optionally duplicated to a lumberjack-
// rotated log file, behind a small StyledLogger facade used by the proxy's
// hot paths.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction. LogFile mirrors spec.md §6's
// --log-file flag: "" or os.DevNull disables file output entirely.
type Config struct {
	Level      string
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"

	// levelCritical has no slog.Level equivalent; CRITICAL log calls are
	// fatal (see Fatal), so they are logged at slog.LevelError+4 to still
	// sort above ordinary errors in any handler that inspects the level.
	levelCritical = slog.LevelError + 4
)

// New builds the base slog.Logger and a styled wrapper around it, plus a
// cleanup func that must run before process exit to flush/close the log
// file.
func New(cfg Config) (*slog.Logger, *StyledLogger, func(), error) {
	level := ParseLevel(cfg.Level)

	var handlers []slog.Handler
	handlers = append(handlers, consoleHandler(level))

	cleanup := func() {}
	if cfg.LogFile != "" && cfg.LogFile != os.DevNull {
		fileHandler, closeFile, err := fileHandler(cfg, level)
		if err != nil {
			return nil, nil, nil, err
		}
		handlers = append(handlers, fileHandler)
		cleanup = closeFile
	}

	var base *slog.Logger
	if len(handlers) == 1 {
		base = slog.New(handlers[0])
	} else {
		base = slog.New(&fanOutHandler{handlers: handlers})
	}

	return base, NewStyledLogger(base), cleanup, nil
}

func consoleHandler(level slog.Level) slog.Handler {
	if isTerminal(os.Stdout) {
		return pterm.NewSlogHandler(
			pterm.DefaultLogger.
				WithLevel(toPtermLevel(level)).
				WithWriter(os.Stdout).
				WithFormatter(pterm.LogFormatterColorful),
		)
	}
	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceTimeKey,
	})
}

func fileHandler(cfg Config, level slog.Level) (slog.Handler, func(), error) {
	dir := filepath.Dir(cfg.LogFile)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    nonZero(cfg.MaxSizeMB, 50),
		MaxBackups: nonZero(cfg.MaxBackups, 5),
		MaxAge:     nonZero(cfg.MaxAgeDays, 28),
		Compress:   true,
	}
	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceTimeKey,
	})
	return handler, func() { _ = rotator.Close() }, nil
}

func nonZero(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func replaceTimeKey(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "timestamp", Value: slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05.000Z07:00"))}
	}
	return a
}

// ParseLevel maps spec.md §6's five log-level names onto slog.Level.
// CRITICAL has no slog equivalent and is mapped above Error; callers that
// need fatal-and-exit semantics should call Fatal, not rely on the level
// alone.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return levelCritical
	default:
		return slog.LevelInfo
	}
}

func toPtermLevel(level slog.Level) pterm.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return pterm.LogLevelTrace
	case level <= slog.LevelInfo:
		return pterm.LogLevelInfo
	case level <= slog.LevelWarn:
		return pterm.LogLevelWarn
	default:
		return pterm.LogLevelError
	}
}

// fanOutHandler sends every record to all wrapped handlers, matching the
// teacher's simpleMultiHandler.
type fanOutHandler struct {
	handlers []slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanOutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, record.Level) {
			if err := hh.Handle(ctx, record.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return &fanOutHandler{handlers: out}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return &fanOutHandler{handlers: out}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

package logger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oferbear/HTTP-proxy/internal/theme"
)

// StyledLogger wraps a slog.Logger with domain-aware helpers so the proxy's
// hot-path log call sites stay one-liners, the way thushan/olla's
// StyledLogger wraps endpoint-health logging.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger wraps base with the proxy's default theme.
func NewStyledLogger(base *slog.Logger) *StyledLogger {
	return &StyledLogger{logger: base, theme: theme.Default()}
}

func (s *StyledLogger) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }
func (s *StyledLogger) Info(msg string, args ...any)  { s.logger.Info(msg, args...) }
func (s *StyledLogger) Warn(msg string, args ...any)  { s.logger.Warn(msg, args...) }
func (s *StyledLogger) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

// Critical logs at the CRITICAL level and terminates the process, matching
// spec.md §6's log-level contract (CRITICAL is always fatal for this
// proxy — there is no recoverable use of it).
func (s *StyledLogger) Critical(msg string, args ...any) {
	s.logger.Log(context.Background(), levelCritical, msg, args...)
	Fatal(msg)
}

// InfoWithEndpoint logs msg with endpoint highlighted, for connect/accept
// lines on the proxy and tunnel paths.
func (s *StyledLogger) InfoWithEndpoint(msg, endpoint string, args ...any) {
	styled := fmt.Sprintf("%s %s", msg, s.theme.Endpoint.Sprint(endpoint))
	s.logger.Info(styled, args...)
}

// InfoCacheHit logs a cache hit for uri with its current hit count.
func (s *StyledLogger) InfoCacheHit(uri string, hits int) {
	s.logger.Info(fmt.Sprintf("cache hit %s (%s)", s.theme.CacheHit.Sprint(uri), s.theme.Counter.Sprint(hits)))
}

// InfoCacheMiss logs a cache miss for uri.
func (s *StyledLogger) InfoCacheMiss(uri string) {
	s.logger.Info(fmt.Sprintf("cache miss %s", s.theme.CacheMiss.Sprint(uri)))
}

// WithFD returns a logger scoped to fd, the way the teacher scopes loggers
// with With(...) for a single endpoint's lifetime.
func (s *StyledLogger) WithFD(fd int) *StyledLogger {
	return &StyledLogger{logger: s.logger.With("fd", fd), theme: s.theme}
}

// Underlying returns the wrapped slog.Logger for callers that need it
// directly (e.g. slog.SetDefault).
func (s *StyledLogger) Underlying() *slog.Logger { return s.logger }

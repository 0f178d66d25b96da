// Package logging builds the slog.Logger used throughout the hub, including
// an optional syslog-backed handler for the -S/--syslog CLI flag.
//
// The syslog handler wraps the standard library's log/syslog.Writer the same
// way a logrus syslog hook would (see nabbar-golib/logger/hooksyslog.go for
// the pattern this is adapted from), but implements slog.Handler directly
// instead of going through logrus.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
)

// New builds a leveled slog.Logger writing JSON or text to stderr.
// level is a *slog.LevelVar so SIGHUP-driven verbosity changes (via
// level.Set) take effect without recreating the logger.
func New(format string, level *slog.LevelVar) *slog.Logger {
	return slog.New(newHandler(os.Stderr, format, level))
}

// NewSyslog builds a leveled slog.Logger that writes to the local syslog
// daemon under the "verlihub<suffix>" identifier. Falls back to a stderr
// logger (with a logged warning) if the syslog connection cannot be opened.
func NewSyslog(format, suffix string, level *slog.LevelVar) *slog.Logger {
	ident := "verlihub"
	if suffix != "" {
		ident += suffix
	}

	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, ident)
	if err != nil {
		fallback := New(format, level)
		fallback.Warn("failed to open syslog, falling back to stderr", slog.String("error", err.Error()))
		return fallback
	}

	return slog.New(&syslogHandler{inner: newHandler(&syslogWriter{w: w}, format, level), writer: w})
}

func newHandler(w io.Writer, format string, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}

	return slog.NewJSONHandler(w, opts)
}

// syslogWriter adapts a *syslog.Writer to io.Writer, routing every record
// through Writer.Write at LOG_INFO (per-record severity is already present
// in the structured payload emitted by slog).
type syslogWriter struct {
	w *syslog.Writer
}

func (s *syslogWriter) Write(p []byte) (int, error) {
	if err := s.w.Info(string(p)); err != nil {
		return 0, fmt.Errorf("write to syslog: %w", err)
	}
	return len(p), nil
}

// syslogHandler wraps an inner handler purely to own the *syslog.Writer's
// lifetime; it forwards every slog.Handler method to inner.
type syslogHandler struct {
	inner  slog.Handler
	writer *syslog.Writer
}

func (h *syslogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *syslogHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &syslogHandler{inner: h.inner.WithAttrs(attrs), writer: h.writer}
}

func (h *syslogHandler) WithGroup(name string) slog.Handler {
	return &syslogHandler{inner: h.inner.WithGroup(name), writer: h.writer}
}

// Close releases the underlying syslog connection, if any.
func (h *syslogHandler) Close() error {
	return h.writer.Close()
}

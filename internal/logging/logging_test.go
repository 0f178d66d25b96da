package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/pavel-pimenov/verlihub/internal/logging"
)

func TestNewJSONFormat(t *testing.T) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	logger := logging.New("json", level)
	if logger == nil {
		t.Fatal("New() returned nil logger")
	}
}

func TestNewLevelVarControlsVerbosity(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	logger := slog.New(h)

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record should be suppressed at Warn level, got %q", buf.String())
	}

	level.Set(slog.LevelDebug)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug record should appear after level lowered, got %q", buf.String())
	}
}

func TestHandlerEnabledRespectsLevel(t *testing.T) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelError)

	h := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: level})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("handler should not be enabled for Info when level is Error")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("handler should be enabled for Error when level is Error")
	}
}

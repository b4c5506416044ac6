// Package logger configures the structured console logger shared by all components.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// TimeFormat is the timestamp layout used on console output.
const TimeFormat = "15:04:05"

// ParseLevel converts a level name into a slog.Level.
// Unknown names fall back to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing colorized lines to w at the given level.
// Color is disabled when w is not os.Stdout or os.Stderr.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	noColor := w != os.Stdout && w != os.Stderr

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      ParseLevel(level),
		TimeFormat: TimeFormat,
		NoColor:    noColor,
	}))
}

// Setup builds a logger with New and installs it as the slog default.
func Setup(level string, w io.Writer) *slog.Logger {
	l := New(level, w)
	slog.SetDefault(l)
	return l
}

// Component returns l tagged with the component name.
// A nil l uses slog.Default().
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

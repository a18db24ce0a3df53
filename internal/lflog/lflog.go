// Package lflog is LumenFlow's ambient structured-logging setup: a
// log/slog logger backed by tint's colorized console handler. It replaces
// bare fmt.Printf/Fprintf calls and the ANSI state-color table in
// internal/cli/colors.go with structured slog attributes, while keeping
// the same terminal-friendly, colorized intent.
package lflog

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New builds a slog.Logger for the given level and format. format "json"
// selects a plain structured handler for machine consumption (CI logs,
// piping to another tool); any other value (the default) selects tint's
// colorized console handler for interactive use.
func New(level, format string) *slog.Logger {
	logLevel := ParseLevel(level)

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}
	return slog.New(handler)
}

// ParseLevel maps a CLI-facing level name to a slog.Level, defaulting to
// Info for anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithWU returns a logger annotated with a WU ID, the field nearly every
// LumenFlow log line carries.
func WithWU(l *slog.Logger, wuID string) *slog.Logger {
	return l.With("wu_id", wuID)
}

// WithLane returns a logger annotated with a lane name.
func WithLane(l *slog.Logger, lane string) *slog.Logger {
	return l.With("lane", lane)
}

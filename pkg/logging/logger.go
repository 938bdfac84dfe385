// Package logging provides structured logging configuration and utilities.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Text selects the human-readable handler instead of JSON.
	Text bool
	// Output defaults to stdout.
	Output io.Writer
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a structured logger from cfg.
func NewLogger(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Text {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

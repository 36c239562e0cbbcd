// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps LOG_LEVEL style names onto slog levels. Unknown names fall
// back to def.
func ParseLevel(name string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return def
	}
}

// New builds a text logger writing to w at the level named by LOG_LEVEL.
func New(w io.Writer, def slog.Level) *slog.Logger {
	level := def
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, def)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Init installs a stderr logger as the slog default and returns it.
func Init(def slog.Level) *slog.Logger {
	logger := New(os.Stderr, def)
	slog.SetDefault(logger)
	return logger
}

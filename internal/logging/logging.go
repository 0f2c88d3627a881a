// Package logging configures structured JSON logging for DocChat.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Output is the destination writer. Defaults to stderr.
	Output io.Writer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: os.Stderr,
	}
}

// Setup builds a JSON slog.Logger from the config.
func Setup(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	return slog.New(handler)
}

// SetupDefault configures logging with the given level and installs
// the logger as the process default.
func SetupDefault(level string) *slog.Logger {
	cfg := DefaultConfig()
	cfg.Level = level

	logger := Setup(cfg)
	slog.SetDefault(logger)
	return logger
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

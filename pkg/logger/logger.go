// Package logger provides structured logging construction for the engine
// and its executors. Output routing is level-aware: errors go to stderr,
// everything else to stdout, so CLI front-ends can pipe results cleanly.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds configuration for structured logging
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"
	AddSource bool
	Stdout    io.Writer
	Stderr    io.Writer
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Format:    "text",
		AddSource: false,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}
}

// New creates a new structured logger with level-based output routing
func New(config Config) *slog.Logger {
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}

	writer := &LevelAwareWriter{
		Stdout: config.Stdout,
		Stderr: config.Stderr,
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

// ParseLevel converts a level string to a slog.Level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// LevelAwareWriter routes log messages to stdout or stderr based on level
type LevelAwareWriter struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (w *LevelAwareWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	if containsLogLevel(msg, "ERROR", "FATAL", "PANIC") {
		return w.Stderr.Write(p)
	}
	return w.Stdout.Write(p)
}

func containsLogLevel(msg string, levels ...string) bool {
	for _, level := range levels {
		// Match both slog text format and JSON format patterns
		if strings.Contains(msg, "level="+level) || strings.Contains(msg, `"level":"`+level+`"`) {
			return true
		}
	}
	return false
}

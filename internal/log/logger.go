// Package log configures the process-wide slog logger for mentionbot with
// console and rotating file backends.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds all logging configuration.
type Config struct {
	Mode   string // "console", "file"
	Level  string // "debug", "info", "warn", "error"
	Format string // "text", "json"

	// File-specific
	FilePath      string
	MaxAgeDays    int // Delete rotated files older than this
	RotationHours int // Start a new file every this many hours
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:          "console",
		Level:         "info",
		Format:        "text",
		FilePath:      "mentionbot.log",
		MaxAgeDays:    7,
		RotationHours: 24,
	}
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(level string) slog.Level {
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

var (
	closer io.Closer
	mu     sync.Mutex
)

// Init initializes the global logger with the given configuration. Any file
// opened by a previous Init is closed.
func Init(cfg *Config) error {
	mu.Lock()
	defer mu.Unlock()

	var handler slog.Handler
	level := ParseLevel(cfg.Level)

	var next io.Closer
	switch cfg.Mode {
	case "file":
		h, c, err := NewFileHandler(cfg, level)
		if err != nil {
			return err
		}
		handler, next = h, c
	default:
		handler = NewConsoleHandler(os.Stderr, cfg, level)
	}

	if closer != nil {
		closer.Close()
	}
	closer = next

	slog.SetDefault(slog.New(handler))
	return nil
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

// Logger returns the current default logger.
func Logger() *slog.Logger {
	return slog.Default()
}

func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// Log logs at the given level.
func Log(ctx context.Context, level slog.Level, msg string, args ...any) {
	Logger().Log(ctx, level, msg, args...)
}

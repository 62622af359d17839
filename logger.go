package abs9p

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Logger is the structured logging interface used throughout abs9p.
// Applications can provide their own implementation to integrate with
// an existing logging system.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields
	Debug(msg string, fields ...LogField)

	// Info logs an info-level message with optional structured fields
	Info(msg string, fields ...LogField)

	// Warn logs a warning-level message with optional structured fields
	Warn(msg string, fields ...LogField)

	// Error logs an error-level message with optional structured fields
	Error(msg string, fields ...LogField)
}

// LogField represents a structured logging field with a key-value pair
type LogField struct {
	Key   string
	Value interface{}
}

// LogConfig configures the default logger.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error". Empty means
	// "info".
	Level string
	// Format is "text" or "json". Empty means "text".
	Format string
	// Output is "stderr", "stdout", or a file path. Empty means
	// "stderr".
	Output string
}

// SlogLogger is the default Logger implementation, backed by the
// stdlib log/slog package.
type SlogLogger struct {
	logger *slog.Logger
	mu     sync.Mutex
	writer io.WriteCloser // set when logging to a file
}

// NewSlogLogger creates a SlogLogger from the provided configuration.
func NewSlogLogger(config *LogConfig) (*SlogLogger, error) {
	if config == nil {
		return nil, fmt.Errorf("log config cannot be nil")
	}

	var writer io.Writer
	var closer io.WriteCloser

	switch config.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		dir := filepath.Dir(config.Output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = file
		closer = file
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(config.Level)}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "text", "":
		handler = slog.NewTextHandler(writer, opts)
	default:
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	return &SlogLogger{
		logger: slog.New(handler),
		writer: closer,
	}, nil
}

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs a debug-level message
func (l *SlogLogger) Debug(msg string, fields ...LogField) {
	l.log(slog.LevelDebug, msg, fields...)
}

// Info logs an info-level message
func (l *SlogLogger) Info(msg string, fields ...LogField) {
	l.log(slog.LevelInfo, msg, fields...)
}

// Warn logs a warning-level message
func (l *SlogLogger) Warn(msg string, fields ...LogField) {
	l.log(slog.LevelWarn, msg, fields...)
}

// Error logs an error-level message
func (l *SlogLogger) Error(msg string, fields ...LogField) {
	l.log(slog.LevelError, msg, fields...)
}

func (l *SlogLogger) log(level slog.Level, msg string, fields ...LogField) {
	if l == nil || l.logger == nil {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields))
	for _, field := range fields {
		attrs = append(attrs, slog.Any(field.Key, field.Value))
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Close closes the logger and any associated resources.
func (l *SlogLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		return l.writer.Close()
	}
	return nil
}

// noopLogger is a logger that does nothing (for when logging is disabled)
type noopLogger struct{}

func (n *noopLogger) Debug(msg string, fields ...LogField) {}
func (n *noopLogger) Info(msg string, fields ...LogField)  {}
func (n *noopLogger) Warn(msg string, fields ...LogField)  {}
func (n *noopLogger) Error(msg string, fields ...LogField) {}

// NewNoopLogger creates a logger that discards all log messages
func NewNoopLogger() Logger {
	return &noopLogger{}
}

// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F constructs a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the bridge.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger adapts the standard library logger to the Logger interface.
type StdLogger struct {
	log     *log.Logger
	verbose bool
}

// NewStdLogger wraps a stdlib logger. When verbose is false, Debug output is
// suppressed.
func NewStdLogger(l *log.Logger, verbose bool) *StdLogger {
	if l == nil {
		l = log.Default()
	}
	return &StdLogger{log: l, verbose: verbose}
}

// Debug logs a debug-level message when verbose logging is enabled.
func (s *StdLogger) Debug(msg string, fields ...Field) {
	if !s.verbose {
		return
	}
	s.emit("DEBUG", msg, fields)
}

// Info logs an informational message.
func (s *StdLogger) Info(msg string, fields ...Field) {
	s.emit("INFO", msg, fields)
}

// Warn logs a warning message.
func (s *StdLogger) Warn(msg string, fields ...Field) {
	s.emit("WARN", msg, fields)
}

// Error logs an error message.
func (s *StdLogger) Error(msg string, fields ...Field) {
	s.emit("ERROR", msg, fields)
}

func (s *StdLogger) emit(level, msg string, fields []Field) {
	if len(fields) == 0 {
		s.log.Printf("%s %s", level, msg)
		return
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	s.log.Printf("%s %s %s", level, msg, strings.Join(parts, " "))
}

// Package utils provides logging and retry primitives shared by the
// ingestion pipeline components.
package utils

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger defines the interface for logging throughout the application.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLogLevel maps a config string to a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// LeveledLogger is the default Logger implementation. Output is line
// oriented and safe for concurrent use.
type LeveledLogger struct {
	level  LogLevel
	fields map[string]interface{}
	out    io.Writer
	mu     sync.Mutex
}

// NewLogger creates a logger writing to stdout at info level.
func NewLogger() Logger {
	return NewLoggerWithLevel(InfoLevel)
}

// NewLoggerWithLevel creates a logger with the specified minimum level.
func NewLoggerWithLevel(level LogLevel) Logger {
	return &LeveledLogger{
		level:  level,
		fields: make(map[string]interface{}),
		out:    os.Stdout,
	}
}

// NewLoggerWithOutput creates a logger writing to the given writer.
// Used by tests to capture output.
func NewLoggerWithOutput(level LogLevel, out io.Writer) Logger {
	return &LeveledLogger{
		level:  level,
		fields: make(map[string]interface{}),
		out:    out,
	}
}

func (l *LeveledLogger) Debug(msg string) { l.log(DebugLevel, msg) }
func (l *LeveledLogger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...))
}

func (l *LeveledLogger) Info(msg string) { l.log(InfoLevel, msg) }
func (l *LeveledLogger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...))
}

func (l *LeveledLogger) Warn(msg string) { l.log(WarnLevel, msg) }
func (l *LeveledLogger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...))
}

func (l *LeveledLogger) Error(msg string) { l.log(ErrorLevel, msg) }
func (l *LeveledLogger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...))
}

func (l *LeveledLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *LeveledLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &LeveledLogger{
		level:  l.level,
		fields: merged,
		out:    l.out,
	}
}

// log formats and outputs a log message if it meets the minimum level.
func (l *LeveledLogger) log(level LogLevel, msg string) {
	if level < l.level {
		return
	}

	levelStr := [...]string{"DEBUG", "INFO", "WARN", "ERROR"}[level]
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	output := fmt.Sprintf("[%s] [%s] %s", timestamp, levelStr, msg)
	if len(l.fields) > 0 {
		output += " fields=" + formatFields(l.fields)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, output)
}

// formatFields converts a fields map to a stable string representation.
func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// NopLogger discards all messages. Useful as a default in tests.
type NopLogger struct{}

func (NopLogger) Debug(string)                           {}
func (NopLogger) Debugf(string, ...interface{})          {}
func (NopLogger) Info(string)                            {}
func (NopLogger) Infof(string, ...interface{})           {}
func (NopLogger) Warn(string)                            {}
func (NopLogger) Warnf(string, ...interface{})           {}
func (NopLogger) Error(string)                           {}
func (NopLogger) Errorf(string, ...interface{})          {}
func (n NopLogger) WithField(string, interface{}) Logger { return n }
func (n NopLogger) WithFields(map[string]interface{}) Logger {
	return n
}

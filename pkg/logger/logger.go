package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogLevel represents the available log levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// logFileEnv overrides the log file location; "off" disables file logging.
const logFileEnv = "KANOA_LOG_FILE"

// Logger wraps slog with intention-aware helpers
type Logger struct {
	*slog.Logger
}

// ParseLevel maps a settings string to a slog level, defaulting to info
func ParseLevel(level LogLevel) slog.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a logger writing to stderr and the log file
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithConsoleWriter(level, os.Stderr)
}

// NewLoggerWithConsoleWriter builds a logger that writes console output to the given writer
func NewLoggerWithConsoleWriter(level LogLevel, consoleWriter io.Writer) *Logger {
	slogLevel := ParseLevel(level)

	if consoleWriter == nil {
		consoleWriter = os.Stderr
	}
	handlers := []slog.Handler{newPlainHandler(consoleWriter, slogLevel)}
	if fh := newFileTextHandler(slogLevel); fh != nil {
		handlers = append(handlers, fh)
	}

	return &Logger{Logger: slog.New(newMultiHandler(handlers...))}
}

// NewDiscardLogger returns a logger that drops everything; useful in tests
func NewDiscardLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithComponent creates a logger with a component context for better tracing
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithSession creates a logger with session context for request tracing
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.With("session", sessionID)}
}

// LogWithIntention logs at level with an intention tag; the console handler
// turns the tag into an icon, file output keeps it as an attribute.
func (l *Logger) LogWithIntention(level slog.Level, intention Intention, msg string, args ...any) {
	kv := append([]any{"intention", string(intention)}, args...)
	l.Log(context.Background(), level, msg, kv...)
}

func (l *Logger) InfoWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelInfo, intention, msg, args...)
}

func (l *Logger) DebugWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelDebug, intention, msg, args...)
}

// Warnings and errors do not carry intentions; the level carries emphasis
func (l *Logger) WarnWithIntention(_ Intention, msg string, args ...any) {
	l.Warn(msg, args...)
}

func (l *Logger) ErrorWithIntention(_ Intention, msg string, args ...any) {
	l.Error(msg, args...)
}

// Default logger instance shared by component loggers
var Default = NewLogger(LogLevelInfo)

// SetGlobalLogLevel replaces Default with a logger at level.
// Component loggers created before this call keep the old level.
func SetGlobalLogLevel(level LogLevel) {
	Default = NewLogger(level)
}

// SetGlobalLoggerWithConsoleWriter replaces the global Default logger using the provided console writer
func SetGlobalLoggerWithConsoleWriter(level LogLevel, consoleWriter io.Writer) {
	Default = NewLoggerWithConsoleWriter(level, consoleWriter)
}

// NewComponentLogger creates a new logger for a specific component
func NewComponentLogger(component string) *Logger {
	return Default.WithComponent(component)
}

func logFilePath() string {
	if p := os.Getenv(logFileEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kanoa", "logs", "kanoa.log")
}

// newFileTextHandler appends to ~/.kanoa/logs/kanoa.log; nil when file logging is off or unavailable
func newFileTextHandler(level slog.Level) slog.Handler {
	path := logFilePath()
	if path == "" || path == "off" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{Key: "time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
			}
			return a
		},
	}
	return slog.NewTextHandler(f, opts)
}

package logger

import (
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
)

var logLevelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// New creates a Logger writing through the given apex handler.
func New(handler log.Handler, level LogLevel) *Logger {
	return &Logger{
		MinLevel: level,
		backend:  &log.Logger{Handler: handler, Level: log.DebugLevel},
	}
}

// NewCLI creates a Logger with the human-readable cli handler.
func NewCLI(w io.Writer, level LogLevel) *Logger {
	return New(cli.New(w), level)
}

// SetLogLevel sets the minimum log level
func (l *Logger) SetLogLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.MinLevel = level
}

func (l *Logger) entry(component string) *log.Entry {
	l.mu.Lock()
	if l.backend == nil {
		l.backend = &log.Logger{Handler: cli.New(os.Stderr), Level: log.DebugLevel}
	}
	backend := l.backend
	l.mu.Unlock()

	if component == "" {
		return log.NewEntry(backend)
	}
	return backend.WithField("component", component)
}

func (l *Logger) enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.MinLevel
}

// Debug logs a debug message
func (l *Logger) Debug(component, message string, args ...interface{}) {
	if l.enabled(LevelDebug) {
		l.entry(component).Debugf(message, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(component, message string, args ...interface{}) {
	if l.enabled(LevelInfo) {
		l.entry(component).Infof(message, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(component, message string, args ...interface{}) {
	if l.enabled(LevelWarn) {
		l.entry(component).Warnf(message, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(component, message string, args ...interface{}) {
	if l.enabled(LevelError) {
		l.entry(component).Errorf(message, args...)
	}
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(component, message string, args ...interface{}) {
	l.entry(component).Errorf(message, args...)
	os.Exit(1)
}

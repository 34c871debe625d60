package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string onto a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger is a leveled printf-style logger. Field context is rendered
// once at attach time, so passing a derived logger around is cheap.
type Logger struct {
	*log.Logger
	level  LogLevel
	fields string
}

// NewLogger creates a new logger writing to stdout at the given level.
func NewLogger(level LogLevel) *Logger {
	return &Logger{Logger: log.New(os.Stdout, "", 0), level: level}
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

// SetOutput redirects the logger, mainly for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.Logger.SetOutput(w)
}

// WithField returns a logger that appends key=value to every line.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		Logger: l.Logger,
		level:  l.level,
		fields: l.fields + fmt.Sprintf(" %s=%v", key, value),
	}
}

func (l *Logger) output(level LogLevel, format string, v ...interface{}) {
	if level < l.level {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.Printf("[%s] [%s] %s%s", timestamp, level, fmt.Sprintf(format, v...), l.fields)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, v ...interface{}) { l.output(DEBUG, format, v...) }

// Info logs an info message.
func (l *Logger) Info(format string, v ...interface{}) { l.output(INFO, format, v...) }

// Warn logs a warning message.
func (l *Logger) Warn(format string, v ...interface{}) { l.output(WARN, format, v...) }

// Error logs an error message.
func (l *Logger) Error(format string, v ...interface{}) { l.output(ERROR, format, v...) }

// Log is the process-wide default logger.
var Log = NewLogger(INFO)

package utils

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// LogLevel represents different logging levels
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	DISABLED
)

// String returns the string representation of log level
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
	case DISABLED:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps a string (e.g. from LOG_LEVEL) to a LogLevel.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch s {
	case "DEBUG":
		return DEBUG, true
	case "INFO":
		return INFO, true
	case "WARN":
		return WARN, true
	case "ERROR":
		return ERROR, true
	case "DISABLED":
		return DISABLED, true
	}
	return INFO, false
}

// Logger provides leveled logging with a component name prefix
type Logger struct {
	level int32 // atomic access
	name  string
}

// Global logger instance
var globalLogger *Logger

func init() {
	globalLogger = NewLogger("GLOBAL")

	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		if level, ok := ParseLogLevel(envLevel); ok {
			globalLogger.SetLevel(level)
		}
	}
}

// NewLogger creates a new logger with the given component name
func NewLogger(name string) *Logger {
	return &Logger{
		level: int32(INFO),
		name:  name,
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	atomic.StoreInt32(&l.level, int32(level))
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return LogLevel(atomic.LoadInt32(&l.level))
}

// shouldLog checks if a level should be logged (fast path)
func (l *Logger) shouldLog(level LogLevel) bool {
	return LogLevel(atomic.LoadInt32(&l.level)) <= level
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logf(DEBUG, format, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.logf(INFO, format, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.logf(WARN, format, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logf(ERROR, format, args...)
	}
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	prefix := fmt.Sprintf("[%s:%s] ", l.name, level.String())
	log.Printf(prefix+format, args...)
}

// Global logging functions for convenience
func Debug(format string, args ...interface{}) {
	globalLogger.Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	globalLogger.Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	globalLogger.Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	globalLogger.Error(format, args...)
}

// SetGlobalLevel sets the global logger level
func SetGlobalLevel(level LogLevel) {
	globalLogger.SetLevel(level)
}

// Component-specific loggers for different parts of the system
var (
	CacheLogger    = NewLogger("CACHE")
	LimiterLogger  = NewLogger("RATELIMIT")
	BreakerLogger  = NewLogger("BREAKER")
	FetchLogger    = NewLogger("FETCH")
	HubLogger      = NewLogger("HUB")
	WSLogger       = NewLogger("WS")
	PollerLogger   = NewLogger("POLLER")
	ProviderLogger = NewLogger("PROVIDER")
	ServerLogger   = NewLogger("SERVER")
)

// InitializeComponentLoggers sets up component loggers with appropriate levels
func InitializeComponentLoggers() {
	if os.Getenv("ENABLE_DEBUG_LOGS") == "true" {
		for _, l := range allComponentLoggers() {
			l.SetLevel(DEBUG)
		}
		return
	}

	// Production levels - reduce noise on hot paths
	CacheLogger.SetLevel(WARN)
	LimiterLogger.SetLevel(INFO)
	BreakerLogger.SetLevel(INFO)
	FetchLogger.SetLevel(INFO)
	HubLogger.SetLevel(INFO)
	WSLogger.SetLevel(WARN)
	PollerLogger.SetLevel(INFO)
	ProviderLogger.SetLevel(INFO)
	ServerLogger.SetLevel(INFO)
}

func allComponentLoggers() []*Logger {
	return []*Logger{
		CacheLogger, LimiterLogger, BreakerLogger, FetchLogger,
		HubLogger, WSLogger, PollerLogger, ProviderLogger, ServerLogger,
	}
}

package netsync

import (
	"log"
	"os"
)

// LogLevel controls how much the core logs. There is exactly one level per
// Logger; components never consult ambient debug flags.
type LogLevel int

const (
	LogSilent LogLevel = iota
	LogError
	LogWarn
	LogInfo
	LogDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogSilent:
		return "silent"
	case LogError:
		return "error"
	case LogWarn:
		return "warn"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	}
	return "unknown"
}

// Logger is the logging facade injected into every component
type Logger struct {
	level LogLevel
	out   *log.Logger
}

// NewLogger creates a Logger writing to stderr at the given level
func NewLogger(level LogLevel) *Logger {
	return &Logger{level: level, out: log.New(os.Stderr, "[netsync] ", log.LstdFlags)}
}

// Level returns the configured level
func (l *Logger) Level() LogLevel {
	if l == nil {
		return LogSilent
	}
	return l.level
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LogError, "ERROR "+format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LogWarn, "WARN "+format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LogInfo, format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LogDebug, format, args...)
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if l == nil || l.out == nil || l.level < level {
		return
	}
	l.out.Printf(format, args...)
}

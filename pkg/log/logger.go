package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var logrusLevels = map[LogLevel]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
	LevelFatal: logrus.FatalLevel,
}

// ParseLevel maps a level name to a LogLevel, falling back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger is a printf-style wrapper over logrus.
// Each entry is tagged with the caller's file:line.
type Logger struct {
	backend *logrus.Logger
}

func NewLogger(level LogLevel) *Logger {
	backend := logrus.New()
	backend.SetOutput(os.Stdout)
	backend.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	backend.SetLevel(logrusLevels[level])
	return &Logger{backend: backend}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.backend.SetLevel(logrusLevels[level])
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(logrus.DebugLevel, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(logrus.InfoLevel, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(logrus.WarnLevel, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(logrus.ErrorLevel, format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(logrus.FatalLevel, format, args...)
	os.Exit(1)
}

func (l *Logger) log(level logrus.Level, format string, args ...interface{}) {
	if !l.backend.IsLevelEnabled(level) {
		return
	}
	l.backend.WithField("caller", callerTag()).Log(level, fmt.Sprintf(format, args...))
}

// callerTag returns "file.go:line" for the logging call site.
func callerTag() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// Global logger instance
var globalLogger *Logger

// InitLogger initializes the global logger at the given level.
func InitLogger(level LogLevel) {
	globalLogger = NewLogger(level)
}

// GetLogger returns the global logger, creating one at info level if needed.
func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

// Convenience functions
func Debug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().Fatal(format, args...)
}

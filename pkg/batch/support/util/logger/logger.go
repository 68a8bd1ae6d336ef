// Package logger provides the logging utility used across RORefCat.
// It keeps a small printf-style API on top of a zap SugaredLogger and filters
// messages based on a process-wide log level. Additional file sinks can be
// attached for the lifetime of a run (per-run error and warning logs).
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	mu        sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	encoding  = "console"
	console   zapcore.Core
	sinks     []*FileSink
	sugar     *zap.SugaredLogger
	exitFatal = func() { os.Exit(1) }
)

func init() {
	console = newConsoleCore(encoding)
	rebuild()
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func newConsoleCore(enc string) zapcore.Core {
	var encoder zapcore.Encoder
	if enc == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig())
	}
	return zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
}

// rebuild must be called with mu held for writing (or from init).
func rebuild() {
	cores := make([]zapcore.Core, 0, len(sinks)+1)
	cores = append(cores, console)
	for _, s := range sinks {
		cores = append(cores, s.core)
	}
	sugar = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// SetLogLevel sets the global log level.
// Valid string values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// If an invalid value is specified, the default "INFO" level is used and a warning is printed.
func SetLogLevel(lvl string) {
	switch strings.ToUpper(lvl) {
	case "INFO":
		level.SetLevel(LevelInfo.zapLevel())
	case "WARN":
		level.SetLevel(LevelWarn.zapLevel())
	case "ERROR":
		level.SetLevel(LevelError.zapLevel())
	case "FATAL":
		level.SetLevel(LevelFatal.zapLevel())
	case "DEBUG":
		level.SetLevel(LevelDebug.zapLevel())
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", lvl)
		level.SetLevel(LevelInfo.zapLevel())
	}
}

// SetEncoding switches the console output between "console" and "json".
func SetEncoding(enc string) {
	mu.Lock()
	defer mu.Unlock()
	encoding = strings.ToLower(enc)
	console = newConsoleCore(encoding)
	rebuild()
}

// Sugar returns the underlying zap logger for callers that want structured fields.
func Sugar() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return sugar.Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Fatalf formats and outputs a FATAL level log message,
// then terminates the program by calling os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	s := current()
	// Written at error level; zap's own Fatal would exit before the sinks are synced.
	s.Errorf("[FATAL] "+format, v...)
	_ = s.Sync()
	exitFatal()
}

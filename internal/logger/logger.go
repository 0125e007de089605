// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultLogger atomic.Pointer[zap.SugaredLogger]

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	var l zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		l = zapcore.DebugLevel
	case "info":
		l = zapcore.InfoLevel
	case "warn":
		l = zapcore.WarnLevel
	case "error":
		l = zapcore.ErrorLevel
	default:
		l = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.ToLower(format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), l)
	Use(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
}

// Use installs l as the default logger. Passing nil silences logging.
func Use(l *zap.Logger) {
	if l == nil {
		defaultLogger.Store(nil)
		return
	}
	defaultLogger.Store(l.Sugar())
}

// Sync flushes buffered log entries.
func Sync() {
	if s := defaultLogger.Load(); s != nil {
		_ = s.Sync()
	}
}

func Debug(format string, args ...interface{}) {
	if s := defaultLogger.Load(); s != nil {
		s.Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if s := defaultLogger.Load(); s != nil {
		s.Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if s := defaultLogger.Load(); s != nil {
		s.Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if s := defaultLogger.Load(); s != nil {
		s.Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	if s := defaultLogger.Load(); s != nil {
		s.Errorf(format, args...)
		_ = s.Sync()
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}

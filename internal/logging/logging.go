// Package logging builds the shared logger every component takes as an
// injected dependency, wrapping go.uber.org/zap the way storj-storj's
// own services take a *zap.Logger (see lib/ext/test_utils.go's
// zap.NewNop() standing in for the real thing under test).
package logging

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the closed set of severities a Logger filters on.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger wraps a *zap.Logger with the printf-style methods every
// package here calls (Debugf/Infof/Warnf/Errorf).
type Logger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// New builds a Logger writing JSON-encoded entries to file (or stderr
// if file is empty), filtering anything below level.
func New(level Level, file string) (*Logger, error) {
	var w zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = zapcore.AddSync(f)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), w, level.zapLevel())
	base := zap.New(core)
	return &Logger{base: base, sugar: base.Sugar()}, nil
}

func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Sync flushes any buffered log entries, for callers to defer at
// startup.
func (l *Logger) Sync() error { return l.base.Sync() }

// Std returns a stdlib *log.Logger backed by this Logger, for
// components (like internal/policy.New) that take one directly rather
// than this package's zap-backed wrapper.
func (l *Logger) Std() *log.Logger {
	return zap.NewStdLog(l.base)
}

// Package logger wraps zap behind the small key/value API the rest of the
// daemon logs through: logger.Info("msg", "key", value, ...).
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base = newLogger(zapcore.InfoLevel)
)

func newLogger(level zapcore.Level) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCallerSkip(1)).Sugar()
}

// Init reconfigures the global logger level. Unknown levels fall back to info.
func Init(level string) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	base = newLogger(lvl)
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func Debug(msg string, kv ...any) { get().Debugw(msg, kv...) }
func Info(msg string, kv ...any)  { get().Infow(msg, kv...) }
func Warn(msg string, kv ...any)  { get().Warnw(msg, kv...) }
func Error(msg string, kv ...any) { get().Errorw(msg, kv...) }

// Fatal logs and exits with status 1.
func Fatal(msg string, kv ...any) { get().Fatalw(msg, kv...) }

// Sync flushes buffered log entries. Call on shutdown.
func Sync() { _ = get().Sync() }

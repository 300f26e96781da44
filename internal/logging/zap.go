package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the backing zap logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// FilePath enables rotated file output when non-empty.
	FilePath string
	// MaxSizeMB, MaxBackups and MaxAgeDays configure rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console mirrors output to stderr in addition to the file sink.
	Console bool
}

var (
	initOnce sync.Once
	rootMu   sync.RWMutex
	root     *zap.Logger = zap.NewNop()
)

// Init configures the process-wide logger backend. The first call wins;
// later calls are ignored so libraries cannot reconfigure the sink.
func Init(opts Options) {
	initOnce.Do(func() {
		rootMu.Lock()
		defer rootMu.Unlock()
		root = build(opts)
	})
}

// ParseLevel maps a configuration string to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func build(opts Options) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	level := ParseLevel(opts.Level)

	var cores []zapcore.Core
	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    defaultInt(opts.MaxSizeMB, 50),
			MaxBackups: defaultInt(opts.MaxBackups, 5),
			MaxAge:     defaultInt(opts.MaxAgeDays, 14),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}
	if opts.Console || opts.FilePath == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}

	return zap.New(zapcore.NewTee(cores...))
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Sync flushes buffered log entries. Safe to call on shutdown paths.
func Sync() {
	rootMu.RLock()
	defer rootMu.RUnlock()
	_ = root.Sync()
}

type componentLogger struct {
	sugar *zap.SugaredLogger
}

// NewComponentLogger returns the process logger scoped to a component.
func NewComponentLogger(component string) Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return &componentLogger{sugar: root.Sugar().With("component", component)}
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.sugar.Debug(sprintf(format, args...))
}

func (l *componentLogger) Info(format string, args ...any) {
	l.sugar.Info(sprintf(format, args...))
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.sugar.Warn(sprintf(format, args...))
}

func (l *componentLogger) Error(format string, args ...any) {
	l.sugar.Error(sprintf(format, args...))
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

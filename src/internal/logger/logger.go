package logger

import (
	"context"
	"log"

	"github.com/opensentry/command/src/internal/configs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger *zap.Logger = zap.NewNop()

type Options struct {
	globalConfigs *configs.LoggerConfigs
}

type Optioner func(o *Options)

func WithGlobalConfigs(c *configs.LoggerConfigs) Optioner {
	return func(o *Options) {
		o.globalConfigs = c
	}
}

func Init(ctx context.Context, options ...Optioner) {
	opts := &Options{}
	for _, opt := range options {
		opt(opts)
	}
	if opts.globalConfigs == nil {
		opts.globalConfigs = &configs.LoggerConfigs{}
	}

	zl, err := newZap(opts.globalConfigs)
	if err != nil {
		log.Fatalf("logger.Init: err = %s", err)
		return
	}
	globalLogger = zl
	zap.ReplaceGlobals(zl)
}

func newZap(c *configs.LoggerConfigs) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.Level != "" {
		if err := level.Set(c.Level); err != nil {
			return nil, err
		}
	}

	encoding := "json"
	if c.Encoding == "console" {
		encoding = "console"
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = encoding
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zc.Build(zap.AddCallerSkip(1))
}

func Logger() *zap.Logger {
	return globalLogger
}

func SDebug(msg string, fields ...zap.Field) {
	globalLogger.Debug(msg, fields...)
}

func SInfo(msg string, fields ...zap.Field) {
	globalLogger.Info(msg, fields...)
}

func SWarn(msg string, fields ...zap.Field) {
	globalLogger.Warn(msg, fields...)
}

func SError(msg string, fields ...zap.Field) {
	globalLogger.Error(msg, fields...)
}

func SFatal(msg string, fields ...zap.Field) {
	globalLogger.Fatal(msg, fields...)
}

func Close() {
	_ = globalLogger.Sync()
}

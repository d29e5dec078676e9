// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging facade used across the pipeline. It wraps
// zap.SugaredLogger rather than exposing it directly so call sites stay
// decoupled from the logging backend.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalf(template string, args ...interface{})
	// Benchmark logs the wall-clock cost of a named operation at debug level.
	Benchmark(operation string, elapsed time.Duration)
	// With returns a child logger carrying the given structured fields on
	// every subsequent entry (e.g. callId, tenantId).
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewApplicationLogger builds the process-wide Logger. In production it
// writes JSON at info level; in any other env it writes colorized console
// output at debug level. The sink is a lumberjack-rotated file when
// logFilePath is set and stderr otherwise, whatever the env.
func NewApplicationLogger(env string, logFilePath string) Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zap.InfoLevel
	var encoder zapcore.Encoder
	if env == "production" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		level = zap.DebugLevel
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer
	if logFilePath != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     14,
			Compress:   true,
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	zapLog := zap.New(core, zap.AddCaller())
	return &zapLogger{sugar: zapLog.Sugar()}
}

func (l *zapLogger) Debug(args ...interface{})                        { l.sugar.Debug(args...) }
func (l *zapLogger) Debugf(template string, args ...interface{})      { l.sugar.Debugf(template, args...) }
func (l *zapLogger) Debugw(msg string, kv ...interface{})             { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(args ...interface{})                         { l.sugar.Info(args...) }
func (l *zapLogger) Infof(template string, args ...interface{})       { l.sugar.Infof(template, args...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})              { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(args ...interface{})                         { l.sugar.Warn(args...) }
func (l *zapLogger) Warnf(template string, args ...interface{})       { l.sugar.Warnf(template, args...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})              { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(args ...interface{})                        { l.sugar.Error(args...) }
func (l *zapLogger) Errorf(template string, args ...interface{})      { l.sugar.Errorf(template, args...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})             { l.sugar.Errorw(msg, kv...) }
func (l *zapLogger) Fatalf(template string, args ...interface{})      { l.sugar.Fatalf(template, args...) }

func (l *zapLogger) Benchmark(operation string, elapsed time.Duration) {
	l.sugar.Debugw("benchmark", "operation", operation, "elapsedMs", elapsed.Milliseconds())
}

func (l *zapLogger) With(keysAndValues ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(keysAndValues...)}
}

func (l *zapLogger) Sync() error {
	return l.sugar.Sync()
}

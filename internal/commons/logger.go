// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SEPARATOR is the delimiter for flattened string lists. No package in this
// repository currently uses it.
const SEPARATOR = ","

// Logger is the structured logging interface every component depends on.
// It mirrors zap's SugaredLogger surface so call sites never need to know
// the concrete backend.
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
	// With returns a child logger carrying the supplied structured fields
	// on every subsequent call (per-session / per-job context).
	With(keysAndValues ...interface{}) Logger
	// Sync flushes any buffered log entries. Call once on shutdown.
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// Options configures the process-wide logger.
type Options struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Development enables human-readable console output instead of JSON.
	Development bool
	// FilePath, when non-empty, tees output through a lumberjack rotating
	// writer in addition to stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds the process logger. Errors building the zap core are treated
// as fatal configuration mistakes by the caller (main), not recovered here.
func New(opts Options) (Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(opts.Level); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	if opts.Development {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if opts.FilePath != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    firstNonZero(opts.MaxSizeMB, 100),
			MaxBackups: firstNonZero(opts.MaxBackups, 5),
			MaxAge:     firstNonZero(opts.MaxAgeDays, 14),
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{s: base.Sugar()}, nil
}

func firstNonZero(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (l *zapLogger) Debug(args ...interface{})                      { l.s.Debug(args...) }
func (l *zapLogger) Debugf(template string, args ...interface{})    { l.s.Debugf(template, args...) }
func (l *zapLogger) Debugw(msg string, kv ...interface{})            { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(args ...interface{})                        { l.s.Info(args...) }
func (l *zapLogger) Infof(template string, args ...interface{})      { l.s.Infof(template, args...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})              { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(args ...interface{})                        { l.s.Warn(args...) }
func (l *zapLogger) Warnf(template string, args ...interface{})      { l.s.Warnf(template, args...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})              { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(args ...interface{})                        { l.s.Error(args...) }
func (l *zapLogger) Errorf(template string, args ...interface{})      { l.s.Errorf(template, args...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})              { l.s.Errorw(msg, kv...) }
func (l *zapLogger) Fatalf(template string, args ...interface{})      { l.s.Fatalf(template, args...) }
func (l *zapLogger) Sync() error                                      { return l.s.Sync() }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

// NewNop returns a logger that discards everything; used in tests.
func NewNop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

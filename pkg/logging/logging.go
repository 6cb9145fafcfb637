// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package logging provides structured logging for stopgap, backed by zap.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// Logger provides structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// Field represents a key-value pair in structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// NewField creates a new field.
func NewField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

// loggerImpl adapts a *zap.Logger to the Logger interface.
type loggerImpl struct {
	level  *zap.AtomicLevel
	zap    *zap.Logger
	fields []Field
}

// NewLogger creates a new logger. If verbose is true, Debug level logs are shown.
func NewLogger(verbose bool) Logger {
	level := LevelInfo
	if verbose {
		level = LevelDebug
	}
	return NewLoggerAtLevel(level)
}

// NewLoggerAtLevel creates a logger gated at the given level (debug, info,
// warn or error). There is no "off" level.
func NewLoggerAtLevel(level Level) Logger {
	return NewLoggerWithWriters(level, os.Stdout, os.Stderr)
}

// NewLoggerWithWriters creates a logger gated at the given level, writing
// Info/Debug/Warn entries to out and Error entries to errOut. Used directly
// by tests that need to inspect emitted output.
func NewLoggerWithWriters(level Level, out, errOut io.Writer) Logger {
	atomic := zap.NewAtomicLevelAt(level.zapLevel())
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.LevelKey = "level"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(cfg)

	belowError := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l < zapcore.ErrorLevel && atomic.Enabled(l)
	})
	atOrAboveError := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel && atomic.Enabled(l)
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), belowError),
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(errOut)), atOrAboveError),
	)

	return &loggerImpl{
		level:  &atomic,
		zap:    zap.New(core),
		fields: []Field{},
	}
}

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.zap.Debug(msg, toZapFields(append(append([]Field{}, l.fields...), fields...))...)
}

func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.zap.Info(msg, toZapFields(append(append([]Field{}, l.fields...), fields...))...)
}

func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.zap.Warn(msg, toZapFields(append(append([]Field{}, l.fields...), fields...))...)
}

func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.zap.Error(msg, toZapFields(append(append([]Field{}, l.fields...), fields...))...)
}

// WithFields returns a new logger with additional fields attached to every entry.
func (l *loggerImpl) WithFields(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &loggerImpl{
		level:  l.level,
		zap:    l.zap,
		fields: merged,
	}
}

// SetLevel adjusts the logger's level at runtime, mirroring a GUC reload.
func (l *loggerImpl) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

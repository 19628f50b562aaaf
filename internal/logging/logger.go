// Package logging provides the structured logger used across the server.
package logging

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field  { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}
func Err(err error) Field { return Field{Key: "error", Value: err} }
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the structured logging interface used throughout the server.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)

	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

type Format int

const (
	FormatText Format = iota
	FormatJSON
)

type Config struct {
	Level        logrus.Level
	Format       Format
	EnableCaller bool
}

func DefaultConfig() Config {
	return Config{Level: logrus.InfoLevel, Format: FormatText}
}

type logger struct {
	entry *logrus.Logger
	fields logrus.Fields
	ctx   context.Context
}

// New builds a Logger writing to stdout per cfg.
func New(cfg Config) Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(cfg.Level)
	l.SetReportCaller(cfg.EnableCaller)

	if cfg.Format == FormatJSON {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	return &logger{entry: l, fields: logrus.Fields{}}
}

func (l *logger) clone() *logger {
	fields := make(logrus.Fields, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &logger{entry: l.entry, fields: fields, ctx: l.ctx}
}

func (l *logger) WithFields(fields ...Field) Logger {
	next := l.clone()
	for _, f := range fields {
		next.fields[f.Key] = f.Value
	}
	return next
}

func (l *logger) WithContext(ctx context.Context) Logger {
	next := l.clone()
	next.ctx = ctx
	return next
}

func (l *logger) build(extra ...Field) *logrus.Entry {
	e := l.entry.WithFields(l.fields)
	if l.ctx != nil {
		if connID := l.ctx.Value(ctxKeyConnectionID); connID != nil {
			e = e.WithField("connection_id", connID)
		}
		if opID := l.ctx.Value(ctxKeyOperationID); opID != nil {
			e = e.WithField("operation_id", opID)
		}
	}
	for _, f := range extra {
		e = e.WithField(f.Key, f.Value)
	}
	if l.entry.ReportCaller {
		if pc, file, line, ok := runtime.Caller(2); ok {
			e = e.WithField("function", runtime.FuncForPC(pc).Name())
			e = e.WithField("file", file).WithField("line", line)
		}
	}
	return e
}

func (l *logger) Debug(msg string, fields ...Field) { l.build(fields...).Debug(msg) }
func (l *logger) Info(msg string, fields ...Field)  { l.build(fields...).Info(msg) }
func (l *logger) Warn(msg string, fields ...Field)  { l.build(fields...).Warn(msg) }
func (l *logger) Error(msg string, err error, fields ...Field) {
	e := l.build(fields...)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(msg)
}

type ctxKey int

const (
	ctxKeyConnectionID ctxKey = iota
	ctxKeyOperationID
)

func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyConnectionID, id)
}

func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyOperationID, id)
}

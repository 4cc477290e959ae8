package schemas

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logging collaborator every provider adapter is built
// against. Callers inject their own implementation; NewDefaultLogger is a
// zerolog-backed default suitable for standalone use and tests.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is a single structured log attribute.
type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field { return Field{Key: key, Value: value} }

type zerologLogger struct {
	logger zerolog.Logger
}

// NewDefaultLogger returns a Logger writing RFC3339-timestamped structured lines
// to stderr via zerolog, at the given minimum level ("debug", "info", "warn", "error").
func NewDefaultLogger(level string) Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		l = l.Level(lvl)
	} else {
		l = l.Level(zerolog.InfoLevel)
	}
	return &zerologLogger{logger: l}
}

func apply(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		e = e.Interface(f.Key, f.Value)
	}
	return e
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	apply(z.logger.Debug(), fields).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	apply(z.logger.Info(), fields).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, fields ...Field) {
	apply(z.logger.Warn(), fields).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	apply(z.logger.Error(), fields).Msg(msg)
}

// NoopLogger discards everything. Useful as a safe zero-value default.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...Field) {}
func (NoopLogger) Info(string, ...Field)  {}
func (NoopLogger) Warn(string, ...Field)  {}
func (NoopLogger) Error(string, ...Field) {}

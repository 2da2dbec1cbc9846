// Package logger provides the session core's logging sink: a small
// leveled interface with a mutable level, backed by go.uber.org/zap and
// gopkg.in/natefinch/lumberjack.v2 for rotating-file output.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors the four severities the session core emits at.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Sink is the logging surface the session core depends on. The core never
// assumes a specific implementation, and never nil-checks its Sink: the
// zero value of Sink is nil, so callers that don't configure one get Noop.
type Sink interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	SetLevel(Level)
}

// noop discards everything; the default when a session is constructed
// without the mqtt.WithLogger option.
type noop struct{}

func (noop) Debugf(string, ...any) {}
func (noop) Infof(string, ...any)  {}
func (noop) Warnf(string, ...any)  {}
func (noop) Errorf(string, ...any) {}
func (noop) SetLevel(Level)        {}

// Noop is the zero-cost Sink used when nothing else is configured.
var Noop Sink = noop{}

// zapSink adapts a *zap.SugaredLogger to Sink. The level lives in the
// zap.AtomicLevel shared with the core, so SetLevel is safe to call
// concurrently with logging calls without any extra synchronization here.
type zapSink struct {
	log  *zap.SugaredLogger
	atom zap.AtomicLevel
}

// New returns a console-only zap-backed Sink at the given starting level.
func New(level Level) Sink {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stderr),
		atom,
	)
	return wrap(zap.New(core), atom)
}

// NewFile returns a zap-backed Sink that writes JSON-encoded entries to a
// lumberjack-rotated file at path (100MB/file, 7 backups, 30 days, gzip).
func NewFile(path string, level Level) Sink {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
		Compress:   true,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(rotator),
		atom,
	)
	return wrap(zap.New(core), atom)
}

func wrap(l *zap.Logger, atom zap.AtomicLevel) Sink {
	return &zapSink{log: l.Sugar(), atom: atom}
}

func (s *zapSink) Debugf(format string, args ...any) { s.log.Debugf(format, args...) }
func (s *zapSink) Infof(format string, args ...any)  { s.log.Infof(format, args...) }
func (s *zapSink) Warnf(format string, args ...any)  { s.log.Warnf(format, args...) }
func (s *zapSink) Errorf(format string, args ...any) { s.log.Errorf(format, args...) }

func (s *zapSink) SetLevel(level Level) {
	s.atom.SetLevel(level.zapLevel())
}

package log

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

// Level is an alias of the zap log level.
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

type (
	Field  = zap.Field
	Option = zap.Option
)

// field and option helpers re-exported so callers don't import zap directly
var (
	Skip       = zap.Skip
	Binary     = zap.Binary
	Bool       = zap.Bool
	Duration   = zap.Duration
	Float64    = zap.Float64
	Int        = zap.Int
	Int32      = zap.Int32
	Int64      = zap.Int64
	Uint       = zap.Uint
	Uint32     = zap.Uint32
	Uint64     = zap.Uint64
	String     = zap.String
	Stringer   = zap.Stringer
	Time       = zap.Time
	Any        = zap.Any
	ErrorField = zap.Error

	WithCaller    = zap.WithCaller
	AddStacktrace = zap.AddStacktrace
	AddCallerSkip = zap.AddCallerSkip
)

func ParseLevel(text string) (Level, error) {
	return zapcore.ParseLevel(text)
}

// Logger wraps a zap.Logger with its configured level.
type Logger struct {
	l     *zap.Logger
	level Level
}

func (l *Logger) Debug(msg string, fields ...Field) { l.l.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.l.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.l.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.l.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.l.Fatal(msg, fields...) }

func (l *Logger) Named(name string) *Logger {
	return &Logger{l: l.l.Named(name), level: l.level}
}

func (l *Logger) WithOptions(opts ...Option) *Logger {
	return &Logger{l: l.l.WithOptions(opts...), level: l.level}
}

func (l *Logger) Level() Level { return l.level }

func (l *Logger) Sync() error { return l.l.Sync() }

// New creates a Logger writing JSON output to writer.
func New(writer io.Writer, level Level, opts ...Option) *Logger {
	if writer == nil {
		panic("the writer is nil")
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg),
		zapcore.AddSync(writer),
		level)
	return &Logger{l: zap.New(core, opts...), level: level}
}

// DevLogger creates a Logger with a console encoder for local development.
func DevLogger(writer io.Writer, level Level, opts ...Option) *Logger {
	if writer == nil {
		panic("the writer is nil")
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.AddSync(writer),
		level)
	return &Logger{l: zap.New(core, opts...), level: level}
}

// NewWithFilters wraps the logger core with zapfilter rules
// (see https://github.com/moul/zapfilter for the syntax).
// This is used when a log config file is provided.
func NewWithFilters(base *Logger, rules string) (*Logger, error) {
	filter, err := zapfilter.ParseRules(rules)
	if err != nil {
		return nil, fmt.Errorf("could not parse log filter rules: %w", err)
	}
	l := base.l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapfilter.NewFilteringCore(c, filter)
	}))
	return &Logger{l: l, level: base.level}, nil
}

var std = DevLogger(os.Stderr, InfoLevel, WithCaller(true), AddCallerSkip(1))

func Default() *Logger { return std }

// ResetDefault replaces the default logger used by the package level functions.
func ResetDefault(l *Logger) {
	std = l
}

func Debug(msg string, fields ...Field) { std.l.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { std.l.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { std.l.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { std.l.Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { std.l.Fatal(msg, fields...) }

func Sync() error { return std.l.Sync() }

type ctxKey struct{}

// AddToContext stores the logger in the context.
func AddToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// GetFromContext returns the logger from the context or the default logger.
func GetFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return std
}

// Package logger is a thin structured-logging facade over zap.
package logger

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Field = zap.Field

// Logger is what the rest of the module logs through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type zapLogger struct {
	z *zap.Logger
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

func (l *zapLogger) With(fields ...Field) Logger { return &zapLogger{z: l.z.With(fields...)} }

// Options select the level and encoding. Encoding is "json" or "console".
type Options struct {
	Level    string `json:"level" yaml:"level"`
	Encoding string `json:"encoding" yaml:"encoding"`
}

func DefaultOptions() Options {
	return Options{Level: "info", Encoding: "json"}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func parse(opts Options) (zapcore.Level, zapcore.Encoder, error) {
	lvl := zapcore.InfoLevel
	if opts.Level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return lvl, nil, fmt.Errorf("logger: bad level %q", opts.Level)
		}
	}
	switch opts.Encoding {
	case "", "json":
		return lvl, zapcore.NewJSONEncoder(encoderConfig()), nil
	case "console":
		return lvl, zapcore.NewConsoleEncoder(encoderConfig()), nil
	}
	return lvl, nil, fmt.Errorf("logger: bad encoding %q", opts.Encoding)
}

// NewZapLogger builds a production logger writing to stderr.
func NewZapLogger(opts Options) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	if opts.Encoding != "" {
		cfg.Encoding = opts.Encoding
	}
	cfg.EncoderConfig = encoderConfig()
	lvl, _, err := parse(opts)
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z}, nil
}

// New writes to w. It is meant for tests and for the CLI's --log-file.
func New(w io.Writer, opts Options) (Logger, error) {
	lvl, enc, err := parse(opts)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return &zapLogger{z: zap.New(core)}, nil
}

// NewNop discards everything.
func NewNop() Logger { return &zapLogger{z: zap.NewNop()} }

// Package logger provides structured logging for the daemon using
// go.uber.org/zap, mirroring the shape of a production service's logging
// package: one wrapper type with WithFields/WithError helpers, and a default
// format picked from the OJ_ENV environment variable (see detectFormat).
package logger

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	RequestIDKey     contextKey = "request_id"
)

// Config holds logger configuration (mirrors config.LoggingConfig's shape
// so either can be passed to New).
type Config struct {
	Level      string
	Format     string // json, console
	OutputPath string // stdout, stderr, or a file path
}

// Logger wraps zap.Logger with a few daemon-specific convenience methods.
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
)

// Default returns the global default logger, lazily initialized.
func Default() *Logger {
	defaultLoggerOnce.Do(func() {
		l, err := New(Config{Level: "info", Format: detectFormat(), OutputPath: "stdout"})
		if err != nil {
			z, _ := zap.NewProduction()
			l = &Logger{zap: z, sugar: z.Sugar()}
		}
		defaultLogger = l
	})
	return defaultLogger
}

func SetDefault(l *Logger) { defaultLogger = l }

// New builds a Logger from Config.
func New(cfg Config) (*Logger, error) {
	level, err := zapLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" || cfg.Format == "text" {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		encoder = zapcore.NewJSONEncoder(enc)
	}

	var sync zapcore.WriteSyncer
	switch cfg.OutputPath {
	case "", "stdout":
		sync = zapcore.AddSync(os.Stdout)
	case "stderr":
		sync = zapcore.AddSync(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		sync = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(encoder, sync, level)
	z := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{zap: z, sugar: z.Sugar()}, nil
}

func zapLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

// detectFormat returns "json" when OJ_ENV is "production" or "prod", and
// "text" otherwise. It does not check whether output is a terminal.
func detectFormat() string {
	if env := os.Getenv("OJ_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func (l *Logger) Sync() error { return l.zap.Sync() }

func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...), sugar: l.zap.With(fields...).Sugar()}
}

func (l *Logger) WithContext(ctx context.Context) *Logger {
	var fields []zap.Field
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("correlation_id", v))
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields...)
}

func (l *Logger) WithError(err error) *Logger { return l.WithFields(zap.Error(err)) }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zap.Fatal(msg, fields...) }

func (l *Logger) Zap() *zap.Logger            { return l.zap }
func (l *Logger) Sugar() *zap.SugaredLogger   { return l.sugar }

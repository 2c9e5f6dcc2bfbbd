// Package logging provides structured logging for the indexing core. The
// call shape (map-based fields passed to Debug/Info/Warn/Error) matches the
// rest of this codebase's conventions; the backend is zap rather than a
// hand-rolled encoder.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity a Logger emits.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Format selects the zap encoder.
type Format string

const (
	JSONFormat  Format = "json"
	HumanFormat Format = "human"
)

// Config holds logger configuration.
type Config struct {
	Format Format
	Level  LogLevel
	Output io.Writer // optional, defaults to stdout
}

// Logger wraps a zap.Logger behind the map-of-fields call shape used
// throughout this codebase.
type Logger struct {
	z *zap.Logger
}

// NewLogger builds a Logger from cfg.
func NewLogger(cfg Config) *Logger {
	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == HumanFormat {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(writer), cfg.Level.zapLevel())
	return &Logger{z: zap.New(core)}
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.z.Debug(message, toZapFields(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.z.Info(message, toZapFields(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.z.Warn(message, toZapFields(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.z.Error(message, toZapFields(fields)...)
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

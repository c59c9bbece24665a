// Package daemonlog provides structured logging for the redapid daemon.
//
// It mirrors the teacher's run-scoped logger (github.com/.../quarry/log)
// but swaps run identity fields (run_id, attempt) for daemon-scoped ones:
// component, object_id, session_id. Output is always structured JSON via
// zap, matching the teacher's encoder configuration verbatim.
package daemonlog

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger. The Sugared form is used throughout
// (rather than the teacher's split Logger/SugaredLogger pair) because the
// core packages (inventory, session) call Warnw with loose key/value pairs
// rather than typed zap.Field values, and a single logger type avoids
// every call site choosing between the two.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New creates a daemon logger writing structured JSON to os.Stderr, scoped
// with a "component" field.
func New(component string) *Logger {
	return NewWithOutput(component, os.Stderr)
}

// NewWithOutput creates a daemon logger writing to w.
func NewWithOutput(component string, w io.Writer) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	zapLogger := zap.New(core).With(zap.String("component", component))
	return &Logger{sugar: zapLogger.Sugar()}
}

// With returns a child logger with additional context fields (object_id,
// session_id, program_id, ...), same idea as the teacher's SugaredLogger.With.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}

// Debugw logs at debug level with key/value pairs.
func (l *Logger) Debugw(msg string, keysAndValues ...any) { l.sugar.Debugw(msg, keysAndValues...) }

// Infow logs at info level with key/value pairs.
func (l *Logger) Infow(msg string, keysAndValues ...any) { l.sugar.Infow(msg, keysAndValues...) }

// Warnw logs at warn level with key/value pairs. Satisfies the Logger
// interfaces internal/inventory and internal/session declare.
func (l *Logger) Warnw(msg string, keysAndValues ...any) { l.sugar.Warnw(msg, keysAndValues...) }

// Errorw logs at error level with key/value pairs.
func (l *Logger) Errorw(msg string, keysAndValues ...any) { l.sugar.Errorw(msg, keysAndValues...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.sugar.Sync() }

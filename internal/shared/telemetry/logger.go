package telemetry

import (
	"os"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(newDefault())
}

func newDefault() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stdout), zap.InfoLevel)
	return zap.New(core)
}

// L returns the process logger.
func L() *zap.Logger {
	return current.Load()
}

// SetLogger replaces the process logger and returns a func restoring the previous one.
func SetLogger(l *zap.Logger) (restore func()) {
	if l == nil {
		l = zap.NewNop()
	}
	prev := current.Swap(l)
	return func() { current.Store(prev) }
}

// Sync flushes buffered log entries.
func Sync() {
	_ = L().Sync()
}

// Info writes an info-level log line with the given fields.
func Info(msg string, fields map[string]any) {
	L().Info(msg, toZap(fields)...)
}

// Warn writes a warn-level log line with the given fields.
func Warn(msg string, fields map[string]any) {
	L().Warn(msg, toZap(fields)...)
}

// Error writes an error-level log line with the given fields.
func Error(msg string, fields map[string]any) {
	L().Error(msg, toZap(fields)...)
}

func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.String(k, v.Error()))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

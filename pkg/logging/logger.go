// Package logging adapts zap to core.ILogger. Records go to a local encoder
// and, through otelzap, to whatever OTel logger provider is installed.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"walletd/internal/core"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// scope names bridged OTel log records
const scope = "walletd"

type Options struct {
	// Level is one of debug, info, warn, error, fatal in any case. Empty means info.
	Level   string
	JSON    bool
	Service string
	// Output defaults to stdout.
	Output io.Writer
}

// ParseLevel accepts level names case-insensitively
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

type ZapLogger struct {
	z *zap.Logger
}

var _ core.ILogger = (*ZapLogger)(nil)

// New builds the root logger
func New(opts Options) (*ZapLogger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder = zapcore.NewConsoleEncoder(enc)
	if opts.JSON {
		encoder = zapcore.NewJSONEncoder(enc)
	}

	local := zapcore.NewCore(encoder, zapcore.AddSync(out), lvl)
	bridged := otelzap.NewCore(scope, otelzap.WithLoggerProvider(global.GetLoggerProvider()))

	z := zap.New(zapcore.NewTee(local, bridged), zap.AddCaller(), zap.AddCallerSkip(1))
	if opts.Service != "" {
		z = z.With(zap.String("service", opts.Service))
	}
	return &ZapLogger{z: z}, nil
}

func NewNopLogger() *ZapLogger {
	return &ZapLogger{z: zap.NewNop()}
}

// fields pairs up key/value arguments. A trailing key without a value is dropped.
func fields(kv []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 1; i < len(kv); i += 2 {
		key, ok := kv[i-1].(string)
		if !ok {
			key = fmt.Sprint(kv[i-1])
		}
		out = append(out, zap.Any(key, kv[i]))
	}
	return out
}

func (l *ZapLogger) Debug(msg string, kv ...interface{}) { l.z.Debug(msg, fields(kv)...) }
func (l *ZapLogger) Info(msg string, kv ...interface{})  { l.z.Info(msg, fields(kv)...) }
func (l *ZapLogger) Warn(msg string, kv ...interface{})  { l.z.Warn(msg, fields(kv)...) }
func (l *ZapLogger) Error(msg string, kv ...interface{}) { l.z.Error(msg, fields(kv)...) }
func (l *ZapLogger) Fatal(msg string, kv ...interface{}) { l.z.Fatal(msg, fields(kv)...) }

func (l *ZapLogger) WithField(key string, value interface{}) core.ILogger {
	return &ZapLogger{z: l.z.With(zap.Any(key, value))}
}

func (l *ZapLogger) WithFields(m map[string]interface{}) core.ILogger {
	kv := make([]interface{}, 0, 2*len(m))
	for k, v := range m {
		kv = append(kv, k, v)
	}
	return &ZapLogger{z: l.z.With(fields(kv)...)}
}

// Sync flushes buffered entries; call it once on shutdown
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}

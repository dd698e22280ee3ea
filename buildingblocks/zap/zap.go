package zap

import (
	"context"
	"fmt"
	"strings"

	logpkg "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the zap logger is built.
type Config struct {
	// Environment selects the encoder preset: "production" (JSON) or anything
	// else for the console development encoder.
	Environment string
	// Level is the textual minimum level (debug, info, warn, error).
	Level string
	// Service is attached as a constant "service" field when not empty.
	Service string
}

// Logger implements log.Logger on top of a *zap.Logger.
type Logger struct {
	logger      *zap.Logger
	atomicLevel zap.AtomicLevel
}

var _ logpkg.Logger = (*Logger)(nil)

// New builds a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := logpkg.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("zap logger level: %w", err)
	}

	atomicLevel := zap.NewAtomicLevelAt(logLevelToZap(level))

	var zapCfg zap.Config
	if strings.EqualFold(strings.TrimSpace(cfg.Environment), "production") {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = atomicLevel
	zapCfg.DisableStacktrace = true

	built, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	if service := strings.TrimSpace(cfg.Service); service != "" {
		built = built.With(zap.String("service", service))
	}

	return &Logger{logger: built, atomicLevel: atomicLevel}, nil
}

// NewFromZap wraps an existing zap logger. Mostly useful in tests with
// zaptest/observer cores.
func NewFromZap(logger *zap.Logger) *Logger {
	return &Logger{logger: logger, atomicLevel: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

func (l *Logger) must() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}

	return l.logger
}

// Log dispatches to the matching zap level. If ctx carries a valid span,
// trace_id and span_id are appended so logs correlate with traces.
func (l *Logger) Log(ctx context.Context, level logpkg.Level, msg string, fields ...logpkg.Field) {
	zapFields := logFieldsToZap(fields)

	if ctx != nil {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			zapFields = append(zapFields,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
	}

	switch level {
	case logpkg.LevelDebug:
		l.must().Debug(msg, zapFields...)
	case logpkg.LevelWarn:
		l.must().Warn(msg, zapFields...)
	case logpkg.LevelError:
		l.must().Error(msg, zapFields...)
	default:
		l.must().Info(msg, zapFields...)
	}
}

//nolint:ireturn
func (l *Logger) With(fields ...logpkg.Field) logpkg.Logger {
	return &Logger{
		logger:      l.must().With(logFieldsToZap(fields)...),
		atomicLevel: l.atomicLevel,
	}
}

//nolint:ireturn
func (l *Logger) WithGroup(name string) logpkg.Logger {
	return &Logger{
		logger:      l.must().With(zap.Namespace(name)),
		atomicLevel: l.atomicLevel,
	}
}

// Enabled reports whether an entry at level would be emitted.
func (l *Logger) Enabled(level logpkg.Level) bool {
	return l.must().Core().Enabled(logLevelToZap(level))
}

// Sync flushes buffered entries, giving up when ctx is done.
func (l *Logger) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		done <- l.must().Sync()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level logpkg.Level) {
	if l == nil {
		return
	}

	l.atomicLevel.SetLevel(logLevelToZap(level))
}

// Raw returns the wrapped zap logger.
func (l *Logger) Raw() *zap.Logger {
	return l.must()
}

func logLevelToZap(level logpkg.Level) zapcore.Level {
	switch level {
	case logpkg.LevelDebug:
		return zapcore.DebugLevel
	case logpkg.LevelWarn:
		return zapcore.WarnLevel
	case logpkg.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func logFieldsToZap(fields []logpkg.Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))

	for _, f := range fields {
		if err, ok := f.Value.(error); ok && f.Key == "error" {
			zapFields = append(zapFields, zap.Error(err))
			continue
		}

		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}

	return zapFields
}

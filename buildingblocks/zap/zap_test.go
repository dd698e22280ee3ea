package zap

import (
	"context"
	"errors"
	"testing"

	logpkg "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)

	return NewFromZap(zap.New(core)), logs
}

func TestLogger_LevelsAndFields(t *testing.T) {
	t.Parallel()

	logger, logs := newObserved(zapcore.DebugLevel)
	ctx := context.Background()

	logger.Log(ctx, logpkg.LevelDebug, "debug entry", logpkg.String("tenant", "acme"))
	logger.Log(ctx, logpkg.LevelWarn, "warn entry", logpkg.Int("attempt", 2))
	logger.Log(ctx, logpkg.LevelError, "error entry", logpkg.Err(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "acme", entries[0].ContextMap()["tenant"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(2), entries[1].ContextMap()["attempt"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])
}

func TestLogger_AppendsTraceCorrelation(t *testing.T) {
	t.Parallel()

	logger, logs := newObserved(zapcore.InfoLevel)
	provider := trace.NewTracerProvider()

	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.Log(ctx, logpkg.LevelInfo, "inside span")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
}

func TestLogger_EnabledAndWith(t *testing.T) {
	t.Parallel()

	logger, logs := newObserved(zapcore.WarnLevel)

	assert.False(t, logger.Enabled(logpkg.LevelInfo))
	assert.True(t, logger.Enabled(logpkg.LevelError))

	child := logger.With(logpkg.String("component", "outbox"))
	child.Log(context.Background(), logpkg.LevelError, "child entry")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "outbox", logs.All()[0].ContextMap()["component"])
}

func TestNew_RejectsInvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Level: "loud"})
	require.Error(t, err)

	logger, err := New(Config{Environment: "production", Level: "info", Service: "relay"})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(logpkg.LevelInfo))
	assert.False(t, logger.Enabled(logpkg.LevelDebug))

	logger.SetLevel(logpkg.LevelDebug)
	assert.True(t, logger.Enabled(logpkg.LevelDebug))
}

func TestNilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var logger *Logger

	assert.NotPanics(t, func() {
		logger.Log(context.Background(), logpkg.LevelInfo, "nil receiver")
	})
}

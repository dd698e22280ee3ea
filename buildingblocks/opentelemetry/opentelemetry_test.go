package opentelemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestHandleSpanError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := provider.Tracer("test").Start(context.Background(), "op")
	HandleSpanError(&span, "failed to publish", errors.New("broker down"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "failed to publish: broker down", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}

func TestHandleSpanHelpers_NilSafe(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		HandleSpanError(nil, "msg", errors.New("x"))
		HandleSpanBusinessErrorEvent(nil, "busy", errors.New("x"))
		HandleSpanEvent(nil, "evt")

		var span trace.Span
		HandleSpanError(&span, "msg", errors.New("x"))
	})
}

func TestHandleSpanBusinessErrorEvent_KeepsStatus(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := provider.Tracer("test").Start(context.Background(), "op")
	HandleSpanBusinessErrorEvent(&span, "lock.busy", errors.New("resource busy"))
	span.End()

	ended := recorder.Ended()[0]
	assert.Equal(t, codes.Unset, ended.Status().Code)
	require.Len(t, ended.Events(), 1)
	assert.Equal(t, "lock.busy", ended.Events()[0].Name)
}

func TestQueueHeaders_RoundTrip(t *testing.T) {
	t.Parallel()

	propagator := propagation.TraceContext{}
	provider := sdktrace.NewTracerProvider()

	ctx, span := provider.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)

	headers := map[string]any{"x-tenant": "acme"}
	for k, v := range carrier {
		headers[k] = v
	}

	restored := propagator.Extract(context.Background(), headersToCarrier(headers))
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(restored).TraceID())
}

func headersToCarrier(headers map[string]any) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}

	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}

	return carrier
}

func TestExtractTraceContextFromQueueHeaders_Empty(t *testing.T) {
	t.Parallel()

	base := context.Background()

	assert.Equal(t, base, ExtractTraceContextFromQueueHeaders(base, nil))
	assert.Equal(t, base, ExtractTraceContextFromQueueHeaders(base, map[string]any{"n": 1}))
}

func TestPrepareQueueHeaders_CopiesBase(t *testing.T) {
	t.Parallel()

	base := map[string]any{"tenant_id": "acme"}
	headers := PrepareQueueHeaders(context.Background(), base)

	assert.Equal(t, "acme", headers["tenant_id"])

	headers["tenant_id"] = "other"
	assert.Equal(t, "acme", base["tenant_id"])
}

func TestInitialize_Disabled(t *testing.T) {
	t.Parallel()

	_, err := Initialize(context.Background(), nil)
	require.ErrorIs(t, err, ErrNilTelemetryConfig)

	_, err = Initialize(context.Background(), &TelemetryConfig{})
	require.ErrorIs(t, err, ErrNilTelemetryLogger)

	telemetry, err := Initialize(context.Background(), &TelemetryConfig{ServiceName: "relay", Logger: log.NewNop()})
	require.NoError(t, err)
	require.NotNil(t, telemetry.TracerProvider)
	require.NoError(t, telemetry.Shutdown(context.Background()))
}

func TestGetTraceIDFromContext(t *testing.T) {
	t.Parallel()

	assert.Empty(t, GetTraceIDFromContext(context.Background()))

	ctx, span := sdktrace.NewTracerProvider().Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceIDFromContext(ctx))
}

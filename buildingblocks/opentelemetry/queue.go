package opentelemetry

import (
	"context"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// InjectQueueTraceContext serialises the span context of ctx as W3C headers.
func InjectQueueTraceContext(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return carrier
}

// PrepareQueueHeaders copies baseHeaders and adds the trace headers of ctx.
func PrepareQueueHeaders(ctx context.Context, baseHeaders map[string]any) map[string]any {
	headers := make(map[string]any, len(baseHeaders)+2)
	maps.Copy(headers, baseHeaders)

	for k, v := range InjectQueueTraceContext(ctx) {
		headers[k] = v
	}

	return headers
}

// ExtractTraceContextFromQueueHeaders restores the remote span context carried
// in broker headers. Non-string values are ignored.
func ExtractTraceContextFromQueueHeaders(baseCtx context.Context, headers map[string]any) context.Context {
	if len(headers) == 0 {
		return baseCtx
	}

	carrier := propagation.MapCarrier{}

	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}

	if len(carrier) == 0 {
		return baseCtx
	}

	return otel.GetTextMapPropagator().Extract(baseCtx, carrier)
}

// GetTraceIDFromContext returns the hex trace id of the span in ctx, or "".
func GetTraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}

	return sc.TraceID().String()
}

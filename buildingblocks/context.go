package buildingblocks

import (
	"context"
	"strings"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "buildingblocks.default"

type trackingKey struct{}

// Tracking holds the request-scoped facilities attached to a context.
type Tracking struct {
	HeaderID string
	Tracer   trace.Tracer
	Logger   log.Logger
}

func trackingFrom(ctx context.Context) Tracking {
	if ctx == nil {
		return Tracking{}
	}

	if values, ok := ctx.Value(trackingKey{}).(Tracking); ok {
		return values
	}

	return Tracking{}
}

// ContextWithLogger returns a copy of ctx carrying logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	values := trackingFrom(ctx)
	values.Logger = logger

	return context.WithValue(ctx, trackingKey{}, values)
}

// ContextWithTracer returns a copy of ctx carrying tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	values := trackingFrom(ctx)
	values.Tracer = tracer

	return context.WithValue(ctx, trackingKey{}, values)
}

// ContextWithHeaderID returns a copy of ctx carrying the correlation id.
func ContextWithHeaderID(ctx context.Context, headerID string) context.Context {
	values := trackingFrom(ctx)
	values.HeaderID = headerID

	return context.WithValue(ctx, trackingKey{}, values)
}

// NewLoggerFromContext returns the logger stored in ctx or a NopLogger.
//
//nolint:ireturn
func NewLoggerFromContext(ctx context.Context) log.Logger {
	if logger := trackingFrom(ctx).Logger; logger != nil {
		return logger
	}

	return log.NewNop()
}

// NewTrackingFromContext extracts logger, tracer and correlation id from ctx.
// Missing pieces fall back to a NopLogger, the global otel tracer and a fresh
// uuid so callers never need nil checks.
//
//nolint:ireturn
func NewTrackingFromContext(ctx context.Context) (log.Logger, trace.Tracer, string) {
	values := trackingFrom(ctx)

	logger := values.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	tracer := values.Tracer
	if tracer == nil {
		tracer = otel.Tracer(defaultTracerName)
	}

	headerID := strings.TrimSpace(values.HeaderID)
	if headerID == "" {
		headerID = uuid.NewString()
	}

	return logger, tracer, headerID
}

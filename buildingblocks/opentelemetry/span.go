package opentelemetry

import (
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandleSpanError marks span as failed and records err.
func HandleSpanError(span *trace.Span, message string, err error) {
	if span == nil || *span == nil || err == nil {
		return
	}

	(*span).SetStatus(codes.Error, sanitizeUTF8String(message+": "+err.Error()))
	(*span).RecordError(err)
}

// HandleSpanBusinessErrorEvent records an expected failure (lock contention,
// rejected input) as an event without flipping the span status.
func HandleSpanBusinessErrorEvent(span *trace.Span, eventName string, err error) {
	if span == nil || *span == nil || err == nil {
		return
	}

	(*span).AddEvent(eventName, trace.WithAttributes(attribute.String("error", sanitizeUTF8String(err.Error()))))
}

// HandleSpanEvent adds a named event with attributes to span.
func HandleSpanEvent(span *trace.Span, eventName string, attributes ...attribute.KeyValue) {
	if span == nil || *span == nil {
		return
	}

	(*span).AddEvent(eventName, trace.WithAttributes(attributes...))
}

func sanitizeUTF8String(s string) string {
	if !utf8.ValidString(s) {
		return strings.ToValidUTF8(s, "�")
	}

	return s
}

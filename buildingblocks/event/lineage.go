package event

import (
	"context"
	"maps"
)

// Metadata keys carrying the execution that emitted an event across the
// outbox.
const (
	MetadataTraceIDKey  = "trace_id"
	MetadataParentIDKey = "trace_parent_id"
)

// Lineage identifies the traced execution a context runs inside.
type Lineage struct {
	ParentID string
	TraceID  string
}

type lineageKey struct{}

// ContextWithLineage returns a copy of ctx running inside l.
func ContextWithLineage(ctx context.Context, l Lineage) context.Context {
	return context.WithValue(ctx, lineageKey{}, l)
}

// LineageFromContext returns the lineage stored in ctx.
func LineageFromContext(ctx context.Context) (Lineage, bool) {
	if ctx == nil {
		return Lineage{}, false
	}

	l, ok := ctx.Value(lineageKey{}).(Lineage)

	return l, ok
}

// Apply returns a copy of metadata carrying l. Empty fields are not written.
func (l Lineage) Apply(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+2)
	maps.Copy(out, metadata)

	if l.TraceID != "" {
		out[MetadataTraceIDKey] = l.TraceID
	}

	if l.ParentID != "" {
		out[MetadataParentIDKey] = l.ParentID
	}

	return out
}

// LineageFromMetadata reads the lineage written by Apply.
func LineageFromMetadata(metadata map[string]any) (Lineage, bool) {
	traceID, _ := metadata[MetadataTraceIDKey].(string)
	parentID, _ := metadata[MetadataParentIDKey].(string)

	return Lineage{ParentID: parentID, TraceID: traceID}, traceID != "" || parentID != ""
}

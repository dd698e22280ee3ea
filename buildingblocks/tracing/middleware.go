package tracing

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/consumer"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/lock"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
)

// Header keys carrying the trace of the handler that emitted a message.
const (
	HeaderTraceID  = "x-event-trace-id"
	HeaderParentID = "x-event-trace-parent-id"
)

const maxExceptionInfo = 2048

// ContextWithRecord marks ctx as running inside the traced execution rec;
// records written under it become its children, and integration events
// committed under it carry it through the outbox.
func ContextWithRecord(ctx context.Context, rec Record) context.Context {
	return event.ContextWithLineage(ctx, event.Lineage{ParentID: rec.ID, TraceID: rec.TraceID})
}

// RecordFromContext returns the id and trace id of the enclosing execution.
func RecordFromContext(ctx context.Context) (id, traceID string, ok bool) {
	l, ok := event.LineageFromContext(ctx)

	return l.ParentID, l.TraceID, ok
}

// InjectHeaders copies the enclosing execution of ctx into headers so that
// the consumer side links its records to it.
func InjectHeaders(ctx context.Context, headers map[string]any) map[string]any {
	if headers == nil {
		headers = make(map[string]any, 2)
	}

	if id, traceID, ok := RecordFromContext(ctx); ok {
		headers[HeaderParentID] = id
		headers[HeaderTraceID] = traceID
	}

	return headers
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	now            func() time.Time
	recordPayload  bool
	maxPayloadSize int
}

// WithPayload stores up to limit bytes of the message payload in records.
func WithPayload(limit int) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.recordPayload = limit > 0
		cfg.maxPayloadSize = limit
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// Middleware traces each handler run: an Executing record at entry, then
// Success, Fail or NotExecuted (lock busy) with the same id at exit. Panics
// are recorded as Fail and re-raised.
func Middleware(queue *Queue, opts ...MiddlewareOption) consumer.Middleware {
	cfg := middlewareConfig{now: time.Now}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next consumer.HandlerFunc) consumer.HandlerFunc {
		return func(ctx context.Context, msg *consumer.Message) (err error) {
			if queue == nil || msg == nil {
				return next(ctx, msg)
			}

			rec := cfg.begin(ctx, msg)
			queue.Write(rec)

			ctx = ContextWithRecord(ctx, rec)

			defer func() {
				if recovered := recover(); recovered != nil {
					queue.Write(cfg.end(rec, fmt.Errorf("panic: %v", recovered)))
					panic(recovered)
				}

				queue.Write(cfg.end(rec, err))
			}()

			return next(ctx, msg)
		}
	}
}

func (cfg middlewareConfig) begin(ctx context.Context, msg *consumer.Message) Record {
	parentID, traceID, _ := RecordFromContext(ctx)

	if parentID == "" {
		parentID = headerString(msg.Headers, HeaderParentID)
	}

	if traceID == "" {
		traceID = headerString(msg.Headers, HeaderTraceID)
	}

	if traceID == "" {
		traceID = libOpentelemetry.GetTraceIDFromContext(ctx)
	}

	if traceID == "" {
		traceID = uuid.NewString()
	}

	begin := cfg.now().UTC()
	rec := Record{
		ID:          uuid.NewString(),
		ParentID:    parentID,
		TraceID:     traceID,
		EventName:   msg.Name,
		Status:      StatusExecuting,
		BeginAt:     &begin,
		HandlerName: consumer.HandlerNameFromContext(ctx),
		TenantID:    msg.TenantID,
	}

	if msg.Category.Valid() {
		category := msg.Category
		rec.EventCategory = &category
	}

	if cfg.recordPayload {
		rec.Payload = strings.ToValidUTF8(truncate(string(msg.Payload), cfg.maxPayloadSize), "\uFFFD")
	}

	return rec
}

func (cfg middlewareConfig) end(rec Record, err error) Record {
	end := cfg.now().UTC()
	rec.EndAt = &end
	rec.Status = StatusSuccess

	switch {
	case err == nil:
	case lock.IsRetryable(err):
		// another worker holds the message; the handler body never ran
		rec.Status = StatusNotExecuted
		rec.ExceptionInfo = truncate(err.Error(), maxExceptionInfo)
	default:
		rec.Status = StatusFail
		rec.ExceptionInfo = truncate(err.Error(), maxExceptionInfo)
	}

	return rec
}

func headerString(headers map[string]any, key string) string {
	switch value := headers[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case []byte:
		return strings.TrimSpace(string(value))
	default:
		return ""
	}
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	cut := max(limit, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}

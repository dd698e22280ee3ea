package rabbitmq

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/consumer"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/outbox"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tracing"
)

// Header keys set on every published event.
const (
	HeaderTenantID      = "tenant_id"
	HeaderAggregateID   = "aggregate_id"
	HeaderEventCategory = "event_category"
	HeaderMetadata      = "metadata"
)

const contentTypeJSON = "application/json"

func publishing(ctx context.Context, ev *outbox.OutboxEvent) amqp.Publishing {
	headers := map[string]any{
		HeaderTenantID:      ev.TenantID,
		HeaderAggregateID:   ev.AggregateID,
		HeaderEventCategory: int32(ev.Category),
	}

	if len(ev.Metadata) > 0 {
		headers[HeaderMetadata] = string(ev.Metadata)

		// the dispatcher publishes outside the emitting handler, so its
		// execution travels in the row metadata
		if lineage, ok := event.LineageFromMetadata(ev.MetadataMap()); ok {
			headers[tracing.HeaderParentID] = lineage.ParentID
			headers[tracing.HeaderTraceID] = lineage.TraceID
		}
	}

	headers = tracing.InjectHeaders(ctx, libOpentelemetry.PrepareQueueHeaders(ctx, headers))

	return amqp.Publishing{
		Headers:      amqp.Table(headers),
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Timestamp:    ev.CreatedAt.UTC(),
		Type:         ev.EventType,
		Body:         ev.Payload,
	}
}

// toMessage maps a delivery onto the router's message. The event name is
// the AMQP type, falling back to the routing key.
func toMessage(d amqp.Delivery) *consumer.Message {
	headers := map[string]any(d.Headers)
	if headers == nil {
		headers = map[string]any{}
	}

	name := strings.TrimSpace(d.Type)
	if name == "" {
		name = d.RoutingKey
	}

	msg := &consumer.Message{
		ID:          d.MessageId,
		Name:        name,
		TenantID:    tableString(headers, HeaderTenantID),
		AggregateID: tableString(headers, HeaderAggregateID),
		Category:    tableCategory(headers, HeaderEventCategory),
		Payload:     d.Body,
		Headers:     headers,
		CreatedAt:   d.Timestamp,
		Redelivered: d.Redelivered,
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if raw := tableString(headers, HeaderMetadata); raw != "" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(raw), &metadata); err == nil {
			msg.Metadata = metadata
		}
	}

	return msg
}

func tableString(headers map[string]any, key string) string {
	switch value := headers[key].(type) {
	case string:
		return value
	case []byte:
		return string(value)
	default:
		return ""
	}
}

func tableCategory(headers map[string]any, key string) event.Category {
	var n int64

	switch value := headers[key].(type) {
	case int8:
		n = int64(value)
	case uint8:
		n = int64(value)
	case int16:
		n = int64(value)
	case int32:
		n = int64(value)
	case int64:
		n = value
	case int:
		n = int64(value)
	default:
		return event.Integration
	}

	if category := event.Category(n); n > 0 && n < 256 && category.Valid() {
		return category
	}

	return event.Integration
}

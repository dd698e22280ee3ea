package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/google/uuid"
)

const (
	OutboxStatusPending    = "PENDING"
	OutboxStatusProcessing = "PROCESSING"
	OutboxStatusPublished  = "PUBLISHED"
	OutboxStatusFailed     = "FAILED"
	OutboxStatusInvalid    = "INVALID"
	DefaultMaxPayloadBytes = 1 << 20
)

// OutboxEvent is one row of the outbox table.
type OutboxEvent struct {
	ID          uuid.UUID
	EventType   string
	AggregateID string
	Category    event.Category
	TenantID    string
	Payload     []byte
	Metadata    []byte
	Status      string
	Attempts    int
	PublishedAt *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOutboxEvent creates a pending integration event with a fresh id.
func NewOutboxEvent(tenantID, eventType, aggregateID string, payload []byte) (*OutboxEvent, error) {
	return NewOutboxEventWithID(uuid.New(), tenantID, eventType, aggregateID, event.Integration, payload, nil)
}

// NewOutboxEventWithID creates a pending event using a caller-provided id.
// metadata may be nil; when set it must be a JSON object.
func NewOutboxEventWithID(
	eventID uuid.UUID,
	tenantID string,
	eventType string,
	aggregateID string,
	category event.Category,
	payload []byte,
	metadata []byte,
) (*OutboxEvent, error) {
	if eventID == uuid.Nil {
		return nil, fmt.Errorf("outbox event id: %w", ErrOutboxEventRequired)
	}

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantIDRequired
	}

	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, ErrEventTypeRequired
	}

	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, ErrAggregateIDRequired
	}

	if !category.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrEventCategoryInvalid, category)
	}

	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	if len(metadata) == 0 {
		metadata = []byte("{}")
	} else if !json.Valid(metadata) {
		return nil, fmt.Errorf("outbox event metadata: %w", ErrOutboxEventPayloadNotJSON)
	}

	now := time.Now().UTC()

	return &OutboxEvent{
		ID:          eventID,
		EventType:   eventType,
		AggregateID: aggregateID,
		Category:    category,
		TenantID:    tenantID,
		Payload:     payload,
		Metadata:    metadata,
		Status:      OutboxStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// FromCaptured marshals a harvested event into a pending outbox row for
// tenantID. The captured id becomes the row id, so a redelivered row keeps
// the identity consumers deduplicate on.
func FromCaptured(tenantID string, captured event.Captured) (*OutboxEvent, error) {
	payload, err := json.Marshal(captured.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", captured.Name, err)
	}

	metadata, err := json.Marshal(captured.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal %s metadata: %w", captured.Name, err)
	}

	id := captured.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	ev, err := NewOutboxEventWithID(id, tenantID, captured.Name, captured.AggregateID, captured.Category, payload, metadata)
	if err != nil {
		return nil, err
	}

	if !captured.CreatedAt.IsZero() {
		ev.CreatedAt = captured.CreatedAt.UTC()
	}

	return ev, nil
}

// MetadataMap decodes Metadata. A missing or malformed document yields an
// empty map.
func (e *OutboxEvent) MetadataMap() map[string]any {
	out := map[string]any{}

	if e == nil || len(e.Metadata) == 0 {
		return out
	}

	if err := json.Unmarshal(e.Metadata, &out); err != nil {
		return map[string]any{}
	}

	return out
}

func validatePayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrOutboxEventPayloadRequired
	}

	if len(payload) > DefaultMaxPayloadBytes {
		return ErrOutboxEventPayloadTooLarge
	}

	if !json.Valid(payload) {
		return ErrOutboxEventPayloadNotJSON
	}

	return nil
}

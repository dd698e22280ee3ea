package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
)

// Message is one event delivered to handlers.
type Message struct {
	ID          string
	Name        string
	TenantID    string
	AggregateID string
	Category    event.Category
	Payload     []byte
	Metadata    map[string]any
	Headers     map[string]any
	CreatedAt   time.Time
	// Redelivered is set by transports that know the broker delivered the
	// message before.
	Redelivered bool
}

// Decode unmarshals the JSON payload into v.
func (m *Message) Decode(v any) error {
	if m == nil {
		return ErrMessageRequired
	}

	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Name, err)
	}

	return nil
}

// FromCaptured builds the message of a harvested event of tenantKey.
func FromCaptured(tenantKey string, captured event.Captured) (*Message, error) {
	payload, err := json.Marshal(captured.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", captured.Name, err)
	}

	return &Message{
		ID:          captured.ID.String(),
		Name:        captured.Name,
		TenantID:    tenantKey,
		AggregateID: captured.AggregateID,
		Category:    captured.Category,
		Payload:     payload,
		Metadata:    captured.Metadata,
		CreatedAt:   captured.CreatedAt,
	}, nil
}

package event

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Carrier is implemented by events embedding Base. The collector writes the
// harvested metadata back into the carrier so the event itself can read its
// aggregate id.
type Carrier interface {
	EventBase() *Base
}

// Base is the embeddable part shared by events.
type Base struct {
	ID        uuid.UUID      `json:"eventId"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBase returns a Base with a fresh id and the current UTC time.
func NewBase() Base {
	return Base{ID: uuid.New(), CreatedAt: time.Now().UTC()}
}

// EventBase implements Carrier.
func (b *Base) EventBase() *Base {
	return b
}

// AggregateID returns the id of the aggregate that raised the event. It is
// empty until the event has been harvested.
func (b *Base) AggregateID() string {
	if b == nil || b.Metadata == nil {
		return ""
	}

	id, _ := b.Metadata[MetadataIDKey].(string)

	return id
}

// SetMeta stores a metadata entry.
func (b *Base) SetMeta(key string, value any) {
	if b.Metadata == nil {
		b.Metadata = make(map[string]any)
	}

	b.Metadata[key] = value
}

func (b *Base) ensure(now time.Time) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
}

func (b *Base) metadataCopy() map[string]any {
	out := make(map[string]any, len(b.Metadata)+2)
	maps.Copy(out, b.Metadata)

	return out
}

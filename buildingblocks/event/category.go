package event

// Category separates in-process events from events published to other
// services.
type Category uint8

const (
	// Domain events are delivered to handlers in the same process.
	Domain Category = 1
	// Integration events are written to the outbox and published.
	Integration Category = 2
)

// Metadata keys filled at harvest time.
const (
	MetadataIDKey       = "id"
	MetadataCategoryKey = "event_category"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == Domain || c == Integration
}

// String returns the lower-case name of the category.
func (c Category) String() string {
	switch c {
	case Domain:
		return "domain"
	case Integration:
		return "integration"
	default:
		return "unknown"
	}
}

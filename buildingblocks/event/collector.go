package event

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/google/uuid"
)

// BucketKey identifies one bucket of captured events. AggregateType is the
// type name the events were registered under.
type BucketKey struct {
	AggregateType string
	Category      Category
}

// Captured is a harvested event, ready for dispatch.
type Captured struct {
	ID          uuid.UUID
	Name        string
	TypeName    string
	AggregateID string
	Category    Category
	Payload     any
	CreatedAt   time.Time
	Metadata    map[string]any
}

type entry struct {
	aggregateID string
	event       any
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLogger sets the logger used to report skipped entries.
func WithLogger(logger log.Logger) CollectorOption {
	return func(c *Collector) {
		if !nilcheck.Interface(logger) {
			c.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// Collector accumulates events per bucket. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	order   []BucketKey
	buckets map[BucketKey][]entry
	logger  log.Logger
	now     func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		buckets: make(map[BucketKey][]entry),
		logger:  log.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Register appends ev to the bucket of its type and category. Entries are
// validated at harvest time; invalid ones are skipped there.
func (c *Collector) Register(aggregateID string, category Category, ev any) {
	if c == nil {
		return
	}

	key := BucketKey{AggregateType: TypeName(ev), Category: category}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.buckets[key]; !ok {
		c.order = append(c.order, key)
	}

	c.buckets[key] = append(c.buckets[key], entry{aggregateID: aggregateID, event: ev})
}

// Harvest drains every bucket. Each registered event is returned at most
// once; a second call returns nothing until new events are registered.
func (c *Collector) Harvest(ctx context.Context) []Captured {
	return c.harvest(ctx, func(Category) bool { return true })
}

// Domain returns the view over Domain buckets.
func (c *Collector) Domain() View {
	return View{collector: c, category: Domain}
}

// Integration returns the view over Integration buckets.
func (c *Collector) Integration() View {
	return View{collector: c, category: Integration}
}

// Len returns the number of pending entries.
func (c *Collector) Len() int {
	return c.count(func(Category) bool { return true })
}

// Clear discards every pending entry without harvesting it.
func (c *Collector) Clear() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.buckets)
	c.order = nil
}

func (c *Collector) count(match func(Category) bool) int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for key, entries := range c.buckets {
		if match(key.Category) {
			n += len(entries)
		}
	}

	return n
}

func (c *Collector) harvest(ctx context.Context, match func(Category) bool) []Captured {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		out  []Captured
		kept = c.order[:0]
	)

	for _, key := range c.order {
		if !match(key.Category) {
			kept = append(kept, key)
			continue
		}

		for i, e := range c.buckets[key] {
			captured, ok := c.capture(ctx, key, i, e)
			if ok {
				out = append(out, captured)
			}
		}

		delete(c.buckets, key)
	}

	c.order = kept

	return out
}

func (c *Collector) capture(ctx context.Context, key BucketKey, index int, e entry) (Captured, bool) {
	aggregateID := strings.TrimSpace(e.aggregateID)

	var reason string

	switch {
	case nilcheck.Interface(e.event):
		reason = "nil event"
	case aggregateID == "":
		reason = "blank aggregate id"
	case !key.Category.Valid():
		reason = "unknown category"
	}

	if reason != "" {
		c.logger.Log(ctx, log.LevelWarn, "skipping malformed event bucket entry",
			log.String("bucket", key.AggregateType),
			log.String("category", key.Category.String()),
			log.Int("index", index),
			log.String("reason", reason),
		)

		return Captured{}, false
	}

	captured := Captured{
		Name:        NameOf(e.event),
		TypeName:    key.AggregateType,
		AggregateID: aggregateID,
		Category:    key.Category,
		Payload:     e.event,
	}

	now := c.now()

	if carrier, ok := e.event.(Carrier); ok && carrier.EventBase() != nil {
		base := carrier.EventBase()
		base.ensure(now)
		base.SetMeta(MetadataIDKey, aggregateID)

		if key.Category == Integration {
			base.SetMeta(MetadataCategoryKey, int(Integration))
		}

		captured.ID = base.ID
		captured.CreatedAt = base.CreatedAt
		captured.Metadata = base.metadataCopy()

		return captured, true
	}

	captured.ID = uuid.New()
	captured.CreatedAt = now
	captured.Metadata = map[string]any{MetadataIDKey: aggregateID}

	if key.Category == Integration {
		captured.Metadata[MetadataCategoryKey] = int(Integration)
	}

	return captured, true
}

// View exposes one category of a Collector.
type View struct {
	collector *Collector
	category  Category
}

// Category returns the category the view is bound to.
func (v View) Category() Category {
	return v.category
}

// Harvest drains the buckets of the view's category only.
func (v View) Harvest(ctx context.Context) []Captured {
	return v.collector.harvest(ctx, func(c Category) bool { return c == v.category })
}

// Len returns the number of pending entries of the view's category.
func (v View) Len() int {
	return v.collector.count(func(c Category) bool { return c == v.category })
}

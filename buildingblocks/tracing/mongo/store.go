package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tracing"
)

const (
	// DefaultCollection holds the records unless WithCollection is used.
	DefaultCollection = "event_traces"

	defaultServerSelectionTimeout = 5 * time.Second
)

var (
	// ErrEmptyURI is returned by Connect for a blank URI.
	ErrEmptyURI = errors.New("mongo uri cannot be empty")
	// ErrDatabaseRequired is returned by NewStore for a nil database.
	ErrDatabaseRequired = errors.New("mongo database is required")
	// ErrConnect wraps connection establishment failures.
	ErrConnect = errors.New("mongo connect failed")
	// ErrPing wraps connectivity check failures.
	ErrPing = errors.New("mongo ping failed")
)

// Connect opens a client and pings it; a client that cannot be pinged is
// disconnected before the error is returned.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, ErrEmptyURI
	}

	if timeout <= 0 {
		timeout = defaultServerSelectionTimeout
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("%w: %w", ErrPing, err)
	}

	return client, nil
}

// Option configures a Store.
type Option func(*Store)

// WithCollection overrides DefaultCollection.
func WithCollection(name string) Option {
	return func(s *Store) {
		if name = strings.TrimSpace(name); name != "" {
			s.collectionName = name
		}
	}
}

// Store is a tracing.Store over one collection. Records are keyed by id, so
// the Success or Fail record of an execution replaces its Executing record.
type Store struct {
	collectionName string
	collection     *mongo.Collection
}

var _ tracing.Store = (*Store)(nil)

func NewStore(db *mongo.Database, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDatabaseRequired
	}

	s := &Store{collectionName: DefaultCollection}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.collection = db.Collection(s.collectionName)

	return s, nil
}

// EnsureIndexes creates the trace and paging indexes. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "tracing.mongo.ensure_indexes")
	defer span.End()

	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "trace_id", Value: 1}, {Key: "begin_at", Value: 1}},
			Options: options.Index().SetName("trace_id_begin_at"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "begin_at", Value: -1}},
			Options: options.Index().SetName("tenant_id_begin_at"),
		},
		{
			Keys:    bson.D{{Key: "begin_at", Value: -1}},
			Options: options.Index().SetName("begin_at"),
		},
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to create trace indexes", err)

		return fmt.Errorf("create trace indexes on %s: %w", s.collectionName, err)
	}

	return nil
}

func (s *Store) Write(ctx context.Context, rec tracing.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return tracing.ErrRecordIDRequired
	}

	ctx, span := s.startSpan(ctx, "tracing.mongo.write")
	defer span.End()

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to write trace record", err)

		return fmt.Errorf("write trace record %s: %w", rec.ID, err)
	}

	return nil
}

func (s *Store) GetPage(ctx context.Context, filter tracing.Filter) (tracing.Page, error) {
	filter = filter.Normalize()

	ctx, span := s.startSpan(ctx, "tracing.mongo.get_page")
	defer span.End()

	query := filterQuery(filter)

	total, err := s.collection.CountDocuments(ctx, query)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to count trace records", err)

		return tracing.Page{}, fmt.Errorf("count trace records: %w", err)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "begin_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(filter.Skip())).
		SetLimit(int64(filter.PageSize))

	items, err := s.find(ctx, query, findOpts)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to list trace records", err)

		return tracing.Page{}, err
	}

	return tracing.Page{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*tracing.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, tracing.ErrRecordIDRequired
	}

	ctx, span := s.startSpan(ctx, "tracing.mongo.get_by_id")
	defer span.End()

	var rec tracing.Record

	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, tracing.ErrRecordNotFound
		}

		libOpentelemetry.HandleSpanError(&span, "Failed to get trace record", err)

		return nil, fmt.Errorf("get trace record %s: %w", id, err)
	}

	return &rec, nil
}

func (s *Store) GetTreeByTraceID(ctx context.Context, traceID string) ([]*tracing.Node, error) {
	if strings.TrimSpace(traceID) == "" {
		return nil, tracing.ErrTraceIDRequired
	}

	ctx, span := s.startSpan(ctx, "tracing.mongo.get_tree")
	defer span.End()

	records, err := s.find(ctx, bson.M{"trace_id": traceID}, options.Find().SetSort(bson.D{{Key: "begin_at", Value: 1}}))
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to load trace", err)

		return nil, err
	}

	return tracing.BuildTree(records), nil
}

func (s *Store) DeleteByTraceID(ctx context.Context, traceID string) (int64, error) {
	if strings.TrimSpace(traceID) == "" {
		return 0, tracing.ErrTraceIDRequired
	}

	ctx, span := s.startSpan(ctx, "tracing.mongo.delete_trace")
	defer span.End()

	res, err := s.collection.DeleteMany(ctx, bson.M{"trace_id": traceID})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to delete trace", err)

		return 0, fmt.Errorf("delete trace %s: %w", traceID, err)
	}

	return res.DeletedCount, nil
}

func (s *Store) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]tracing.Record, error) {
	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find trace records: %w", err)
	}

	records := make([]tracing.Record, 0)

	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode trace records: %w", err)
	}

	return records, nil
}

func (s *Store) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	_, tracer, _ := buildingblocks.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("db.system", "mongodb"),
		attribute.String("db.collection.name", s.collectionName),
	)

	return ctx, span
}

func filterQuery(filter tracing.Filter) bson.M {
	query := bson.M{}

	setIf := func(key, value string) {
		if value != "" {
			query[key] = value
		}
	}

	setIf("trace_id", filter.TraceID)
	setIf("tenant_id", filter.TenantID)
	setIf("event_name", filter.EventName)
	setIf("handler_name", filter.HandlerName)
	setIf("status", string(filter.Status))

	window := bson.M{}

	if !filter.From.IsZero() {
		window["$gte"] = filter.From
	}

	if !filter.To.IsZero() {
		window["$lt"] = filter.To
	}

	if len(window) > 0 {
		query["begin_at"] = window
	}

	return query
}

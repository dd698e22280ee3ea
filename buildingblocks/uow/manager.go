package uow

import (
	"context"
	"errors"
	"fmt"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrNilManager is returned when a manager method is called on a nil receiver.
	ErrNilManager = errors.New("unit of work manager is nil")
	// ErrResolverRequired is returned when a manager is built without a store resolver.
	ErrResolverRequired = errors.New("store resolver is required")
	// ErrNilFunc is returned by Do for a nil callback.
	ErrNilFunc = errors.New("unit of work callback is nil")
)

// StoreResolver returns the store of a tenant. *tenant.Registry implements it.
type StoreResolver interface {
	Resolve(ctx context.Context, key string) (*tenant.Store, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger handed to every unit.
func WithLogger(logger log.Logger) ManagerOption {
	return func(m *Manager) {
		if !nilcheck.Interface(logger) {
			m.logger = logger
		}
	}
}

// Manager opens units of work against the current tenant's store.
type Manager struct {
	resolver StoreResolver
	logger   log.Logger
}

// NewManager creates a Manager.
func NewManager(resolver StoreResolver, opts ...ManagerOption) (*Manager, error) {
	if nilcheck.Interface(resolver) {
		return nil, ErrResolverRequired
	}

	m := &Manager{resolver: resolver, logger: log.NewNop()}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m, nil
}

type unitKey struct{}

// FromContext returns the unit carried by ctx, if it is still open.
func FromContext(ctx context.Context) (*UnitOfWork, bool) {
	if ctx == nil {
		return nil, false
	}

	c, ok := ctx.Value(unitKey{}).(*core)
	if !ok || c == nil || c.currentState() != Open {
		return nil, false
	}

	return &UnitOfWork{core: c}, true
}

// Begin opens a unit of work, or joins the ambient one when propagation is
// Required and the ambient unit belongs to the same tenant. The returned
// context carries the unit.
func (m *Manager) Begin(ctx context.Context, opts ...BeginOption) (context.Context, *UnitOfWork, error) {
	if m == nil {
		return ctx, nil, ErrNilManager
	}

	if ctx == nil {
		ctx = context.Background()
	}

	cfg := beginConfig{propagation: Required}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	tenantKey := tenant.Current(ctx)

	if cfg.propagation == Required {
		if ambient, ok := FromContext(ctx); ok && ambient.core.tenantKey == tenantKey {
			return ctx, &UnitOfWork{core: ambient.core}, nil
		}
	}

	logger, tracer, _ := buildingblocks.NewTrackingFromContext(ctx)
	if _, isNop := logger.(*log.NopLogger); isNop {
		logger = m.logger
	}

	ctx, span := tracer.Start(ctx, "uow.begin")
	defer span.End()

	store, err := m.resolver.Resolve(ctx, tenantKey)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to resolve tenant store", err)

		return ctx, nil, fmt.Errorf("resolve store for tenant %q: %w", tenantKey, err)
	}

	c := &core{
		id:        uuid.New(),
		tenantKey: tenantKey,
		store:     store,
		txOptions: cfg.txOptions(),
		collector: event.NewCollector(event.WithLogger(logger)),
		logger:    logger,
		tracer:    tracer,
	}

	span.SetAttributes(
		attribute.String("uow.id", c.id.String()),
		attribute.String("tenant.id", tenantKey),
		attribute.String("uow.propagation", cfg.propagation.String()),
	)

	return context.WithValue(ctx, unitKey{}, c), &UnitOfWork{core: c, owner: true}, nil
}

// Do runs fn inside a unit of work: fn's error rolls the unit back,
// otherwise it is committed. A participant unit leaves the decision to its
// owner.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, unit *UnitOfWork) error, opts ...BeginOption) (err error) {
	if fn == nil {
		return ErrNilFunc
	}

	ctx, unit, err := m.Begin(ctx, opts...)
	if err != nil {
		return err
	}

	defer func() {
		if disposeErr := unit.Dispose(ctx); disposeErr != nil && err == nil {
			err = disposeErr
		}
	}()

	if err := fn(ctx, unit); err != nil {
		if rbErr := unit.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}

		return err
	}

	return unit.Commit(ctx)
}

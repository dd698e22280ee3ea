package tenant

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNilRegistry is returned when a registry method is called on a nil receiver.
	ErrNilRegistry = errors.New("tenant registry is nil")
	// ErrRegistryClosed is returned by Resolve after Close.
	ErrRegistryClosed = errors.New("tenant registry is closed")
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Registry) {
		if !nilcheck.Interface(logger) {
			r.logger = logger
		}
	}
}

// WithOpener replaces the resolver opener. Tests use it to count or stub
// connections.
func WithOpener(opener Opener) Option {
	return func(r *Registry) {
		if opener != nil {
			r.opener = opener
		}
	}
}

// WithPool sets the connection pool sizing.
func WithPool(pool PoolConfig) Option {
	return func(r *Registry) {
		r.pool = pool
	}
}

// Registry caches one Store per tenant key. Entries are never evicted; a
// handle lives until Close.
type Registry struct {
	main   Descriptor
	lookup Lookup
	opener Opener
	pool   PoolConfig
	logger log.Logger

	mu     sync.RWMutex
	stores map[string]*Store
	group  singleflight.Group
	closed bool
}

// NewRegistry builds a registry whose main tenant is described by main.
func NewRegistry(main Descriptor, lookup Lookup, opts ...Option) (*Registry, error) {
	if nilcheck.Interface(lookup) {
		return nil, ErrLookupRequired
	}

	main.Key = MainKey
	main.IsolationMode = Independent

	if main.ConnectionString == "" {
		return nil, fmt.Errorf("%w: main tenant has no connection string", ErrInvalidDescriptor)
	}

	r := &Registry{
		main:   main,
		lookup: lookup,
		opener: OpenResolver,
		logger: log.NewNop(),
		stores: make(map[string]*Store),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r, nil
}

// Main resolves the main tenant store.
func (r *Registry) Main(ctx context.Context) (*Store, error) {
	return r.Resolve(ctx, MainKey)
}

// Resolve returns the store of key, opening it on first use. Unknown keys
// resolve to the main store.
func (r *Registry) Resolve(ctx context.Context, key string) (*Store, error) {
	if r == nil {
		return nil, ErrNilRegistry
	}

	key = normalizeKey(key)

	if store, ok, err := r.cached(key); ok || err != nil {
		return store, err
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if store, ok, err := r.cached(key); ok || err != nil {
			return store, err
		}

		return r.build(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Store), nil
}

func (r *Registry) cached(key string) (*Store, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, false, ErrRegistryClosed
	}

	store, ok := r.stores[key]

	return store, ok, nil
}

func (r *Registry) build(ctx context.Context, key string) (*Store, error) {
	if key == MainKey {
		return r.open(ctx, MainKey, r.main)
	}

	desc, found, err := r.lookup.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup tenant %q: %w", key, err)
	}

	if !found {
		r.logger.Log(ctx, log.LevelDebug, "tenant descriptor not found, using main store", log.String("tenant", key))

		return r.Resolve(ctx, MainKey)
	}

	if desc.IsolationMode == Shared {
		mainStore, err := r.Resolve(ctx, MainKey)
		if err != nil {
			return nil, err
		}

		desc.Key = key
		desc.Driver = r.main.Driver
		store := &Store{key: key, descriptor: desc, db: mainStore.db}

		return r.remember(store)
	}

	return r.open(ctx, key, desc)
}

func (r *Registry) open(ctx context.Context, key string, desc Descriptor) (*Store, error) {
	db, err := r.opener(ctx, desc, r.pool)
	if err != nil {
		return nil, fmt.Errorf("open tenant %q store: %w", key, err)
	}

	r.logger.Log(ctx, log.LevelInfo, "tenant store opened", log.String("tenant", key), log.String("driver", desc.Driver))

	return r.remember(&Store{key: key, descriptor: desc, db: db, owned: true})
}

func (r *Registry) remember(store *Store) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		_ = store.close()
		return nil, ErrRegistryClosed
	}

	r.stores[store.key] = store

	return store, nil
}

// Keys lists the tenant keys with an open store, sorted.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.stores))
}

// DiscoverTenants lists cached keys plus those the lookup knows about, when
// it can enumerate them.
func (r *Registry) DiscoverTenants(ctx context.Context) ([]string, error) {
	if r == nil {
		return nil, ErrNilRegistry
	}

	seen := map[string]struct{}{MainKey: {}}
	for _, key := range r.Keys() {
		seen[key] = struct{}{}
	}

	if discoverer, ok := r.lookup.(Discoverer); ok {
		keys, err := discoverer.DiscoverTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover tenants: %w", err)
		}

		for _, key := range keys {
			seen[normalizeKey(key)] = struct{}{}
		}
	}

	return slices.Sorted(maps.Keys(seen)), nil
}

// Close closes every store the registry opened. Later Resolve calls fail
// with ErrRegistryClosed.
func (r *Registry) Close() error {
	if r == nil {
		return ErrNilRegistry
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	var errs []error

	for key, store := range r.stores {
		if err := store.close(); err != nil {
			errs = append(errs, fmt.Errorf("close tenant %q: %w", key, err))
		}
	}

	clear(r.stores)

	return errors.Join(errs...)
}

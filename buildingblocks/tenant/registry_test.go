package tenant

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteDescriptor(t *testing.T, name string) Descriptor {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), name+".db") + "?_pragma=busy_timeout(5000)"

	return Descriptor{Key: name, Driver: DriverSQLite, ConnectionString: dsn}
}

type countingOpener struct {
	calls atomic.Int32
	delay time.Duration
}

func (o *countingOpener) open(ctx context.Context, desc Descriptor, pool PoolConfig) (dbresolver.DB, error) {
	o.calls.Add(1)
	time.Sleep(o.delay)

	return OpenResolver(ctx, desc, pool)
}

func newTestRegistry(t *testing.T, section map[string]Descriptor, opener *countingOpener) *Registry {
	t.Helper()

	lookup := LookupFunc(func(_ context.Context, key string) (Descriptor, bool, error) {
		desc, ok := section[key]
		return desc, ok, nil
	})

	opts := []Option{}
	if opener != nil {
		opts = append(opts, WithOpener(opener.open))
	}

	registry, err := NewRegistry(sqliteDescriptor(t, "main"), lookup, opts...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = registry.Close() })

	return registry
}

func TestNewRegistry_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(Descriptor{ConnectionString: "x"}, nil)
	require.ErrorIs(t, err, ErrLookupRequired)

	var typedNil *StaticLookup

	_, err = NewRegistry(Descriptor{ConnectionString: "x"}, typedNil)
	require.ErrorIs(t, err, ErrLookupRequired)

	_, err = NewRegistry(Descriptor{}, &StaticLookup{})
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestRegistry_ResolveCachesHandle(t *testing.T) {
	t.Parallel()

	opener := &countingOpener{}
	registry := newTestRegistry(t, map[string]Descriptor{"acme": sqliteDescriptor(t, "acme")}, opener)
	ctx := context.Background()

	first, err := registry.Resolve(ctx, "acme")
	require.NoError(t, err)

	second, err := registry.Resolve(ctx, "acme")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "acme", first.Key())
	assert.Equal(t, int32(1), opener.calls.Load())

	primary, err := first.Primary()
	require.NoError(t, err)
	require.NoError(t, primary.PingContext(ctx))
}

func TestRegistry_ConcurrentFirstResolutionOpensOnce(t *testing.T) {
	t.Parallel()

	opener := &countingOpener{delay: 20 * time.Millisecond}
	registry := newTestRegistry(t, map[string]Descriptor{"acme": sqliteDescriptor(t, "acme")}, opener)

	const workers = 16

	stores := make([]*Store, workers)

	var wg sync.WaitGroup

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			store, err := registry.Resolve(context.Background(), "acme")
			assert.NoError(t, err)

			stores[i] = store
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), opener.calls.Load())

	for _, store := range stores {
		assert.Same(t, stores[0], store)
	}
}

func TestRegistry_UnknownTenantFallsBackToMain(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, nil, nil)
	ctx := context.Background()

	mainStore, err := registry.Main(ctx)
	require.NoError(t, err)

	store, err := registry.Resolve(ctx, "initech")
	require.NoError(t, err)

	assert.Same(t, mainStore, store)
	assert.Equal(t, []string{MainKey}, registry.Keys())
}

func TestRegistry_SharedTenantReusesMainDatabase(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, map[string]Descriptor{"globex": {Key: "globex", IsolationMode: Shared}}, nil)
	ctx := context.Background()

	store, err := registry.Resolve(ctx, "globex")
	require.NoError(t, err)

	mainStore, err := registry.Main(ctx)
	require.NoError(t, err)

	assert.True(t, store.Shared())
	assert.Equal(t, "globex", store.Key())

	storeDB, err := store.Primary()
	require.NoError(t, err)

	mainDB, err := mainStore.Primary()
	require.NoError(t, err)

	assert.Same(t, mainDB, storeDB)
	assert.Equal(t, []string{"globex", MainKey}, registry.Keys())
}

func TestRegistry_LookupErrorPropagates(t *testing.T) {
	t.Parallel()

	errLookup := errors.New("config store unreachable")
	lookup := LookupFunc(func(context.Context, string) (Descriptor, bool, error) {
		return Descriptor{}, false, errLookup
	})

	registry, err := NewRegistry(sqliteDescriptor(t, "main"), lookup)
	require.NoError(t, err)

	defer registry.Close()

	_, err = registry.Resolve(context.Background(), "acme")
	require.ErrorIs(t, err, errLookup)
}

func TestRegistry_CloseRejectsResolve(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, nil, nil)

	_, err := registry.Main(context.Background())
	require.NoError(t, err)

	require.NoError(t, registry.Close())
	require.NoError(t, registry.Close())

	_, err = registry.Resolve(context.Background(), "acme")
	require.ErrorIs(t, err, ErrRegistryClosed)
	assert.Empty(t, registry.Keys())
}

func TestRegistry_DiscoverTenants(t *testing.T) {
	t.Parallel()

	lookup, err := NewStaticLookup(map[string]string{"acme": "shared", "globex": "shared"})
	require.NoError(t, err)

	registry, err := NewRegistry(sqliteDescriptor(t, "main"), lookup)
	require.NoError(t, err)

	defer registry.Close()

	keys, err := registry.DiscoverTenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex", MainKey}, keys)
}

func TestRegistry_NilReceiver(t *testing.T) {
	t.Parallel()

	var registry *Registry

	_, err := registry.Resolve(context.Background(), "acme")
	require.ErrorIs(t, err, ErrNilRegistry)
	require.ErrorIs(t, registry.Close(), ErrNilRegistry)
	assert.Nil(t, registry.Keys())
}

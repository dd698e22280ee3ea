package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/uow"
)

type OrderCreated struct {
	event.Base
	Total int `json:"total"`
}

type OrderPaid struct {
	event.Base
}

type OrderShipped struct {
	event.Base
	Carrier string `json:"carrier"`
}

// sqliteWriter stages rows into a plain table of the tenant database.
type sqliteWriter struct {
	fail error
}

func (w sqliteWriter) CreateWithTx(ctx context.Context, tx Tx, ev *OutboxEvent) (*OutboxEvent, error) {
	if w.fail != nil {
		return nil, w.fail
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events (id, tenant_id, event_type, aggregate_id, category, payload, metadata, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.TenantID, ev.EventType, ev.AggregateID, int(ev.Category),
		string(ev.Payload), string(ev.Metadata), ev.Status,
	)

	return ev, err
}

type recordingFlusher struct {
	mu      sync.Mutex
	tenants []string
}

func (f *recordingFlusher) Notify(_ context.Context, tenantKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tenants = append(f.tenants, tenantKey)
}

func (f *recordingFlusher) notified() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.tenants...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	calls  int
	events []event.Captured
}

func (n *recordingNotifier) NotifyDomain(_ context.Context, _ string, events []event.Captured) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls++
	n.events = append(n.events, events...)

	return nil
}

type bridgeFixture struct {
	manager   *uow.Manager
	registry  *tenant.Registry
	flusher   *recordingFlusher
	notifier  *recordingNotifier
	transport *Transport
}

func newBridgeFixture(t *testing.T, writer Writer) *bridgeFixture {
	t.Helper()

	dsn := func(name string) string {
		return "file:" + filepath.Join(t.TempDir(), name+".db") + "?_pragma=busy_timeout(5000)"
	}

	lookup, err := tenant.NewStaticLookup(map[string]string{"acme": "sqlite:" + dsn("acme")})
	require.NoError(t, err)

	registry, err := tenant.NewRegistry(tenant.Descriptor{Driver: tenant.DriverSQLite, ConnectionString: dsn("main")}, lookup)
	require.NoError(t, err)

	t.Cleanup(func() { _ = registry.Close() })

	for _, key := range []string{tenant.MainKey, "acme"} {
		store, err := registry.Resolve(context.Background(), key)
		require.NoError(t, err)

		db, err := store.Primary()
		require.NoError(t, err)

		_, err = db.Exec(`CREATE TABLE orders (id TEXT PRIMARY KEY)`)
		require.NoError(t, err)

		_, err = db.Exec(`CREATE TABLE outbox_events (
			id TEXT PRIMARY KEY, tenant_id TEXT, event_type TEXT, aggregate_id TEXT,
			category INTEGER, payload TEXT, metadata TEXT, status TEXT)`)
		require.NoError(t, err)
	}

	manager, err := uow.NewManager(registry)
	require.NoError(t, err)

	flusher := &recordingFlusher{}
	notifier := &recordingNotifier{}

	transport, err := NewTransport(writer, WithFlusher(flusher), WithDomainNotifier(notifier))
	require.NoError(t, err)

	return &bridgeFixture{
		manager:   manager,
		registry:  registry,
		flusher:   flusher,
		notifier:  notifier,
		transport: transport,
	}
}

func (f *bridgeFixture) count(t *testing.T, key, table string) int {
	t.Helper()

	store, err := f.registry.Resolve(context.Background(), key)
	require.NoError(t, err)

	db, err := store.Primary()
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))

	return n
}

func (f *bridgeFixture) begin(t *testing.T, ctx context.Context, autoCommit bool) (*uow.UnitOfWork, *Bridge) {
	t.Helper()

	_, unit, err := f.manager.Begin(ctx)
	require.NoError(t, err)

	bridge, err := f.transport.BeginTransaction(unit, autoCommit)
	require.NoError(t, err)

	return unit, bridge
}

func insertOrder(t *testing.T, ctx context.Context, bridge *Bridge, id string) {
	t.Helper()

	tx, err := bridge.DBTransaction(ctx)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, `INSERT INTO orders (id) VALUES (?)`, id)
	require.NoError(t, err)
}

func TestNewTransport_RequiresWriter(t *testing.T) {
	t.Parallel()

	_, err := NewTransport(nil)
	require.ErrorIs(t, err, ErrOutboxWriterRequired)

	var transport *Transport
	_, err = transport.BeginTransaction(nil, false)
	require.ErrorIs(t, err, ErrTransportRequired)

	transport, err = NewTransport(sqliteWriter{})
	require.NoError(t, err)

	_, err = transport.BeginTransaction(nil, false)
	require.ErrorIs(t, err, ErrUnitRequired)
}

func TestBridge_OrderScenarioFlushesBothDomainEvents(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, sqliteWriter{})
	ctx := context.Background()

	unit, bridge := f.begin(t, ctx, false)
	insertOrder(t, ctx, bridge, "order-42")

	unit.Collector().Register("order-42", event.Domain, &OrderCreated{Base: event.NewBase(), Total: 10})
	unit.Collector().Register("order-42", event.Domain, &OrderPaid{Base: event.NewBase()})

	require.NoError(t, bridge.Commit(ctx))

	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, "order.created", f.notifier.events[0].Name)
	assert.Equal(t, "order.paid", f.notifier.events[1].Name)

	for _, captured := range f.notifier.events {
		assert.Equal(t, "order-42", captured.Metadata[event.MetadataIDKey])
	}

	assert.Equal(t, 1, f.count(t, tenant.MainKey, "orders"))
	assert.Zero(t, f.count(t, tenant.MainKey, "outbox_events"))
	assert.Empty(t, f.flusher.notified())
}

func TestBridge_CommitStagesIntegrationEventsInSameTransaction(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, sqliteWriter{})
	ctx := tenant.SwitchTo(context.Background(), "acme")

	unit, bridge := f.begin(t, ctx, false)
	insertOrder(t, ctx, bridge, "order-7")

	unit.Collector().Register("order-7", event.Integration, &OrderShipped{Base: event.NewBase(), Carrier: "dhl"})

	require.NoError(t, bridge.Commit(ctx))

	assert.Equal(t, 1, f.count(t, "acme", "orders"))
	assert.Equal(t, 1, f.count(t, "acme", "outbox_events"))
	assert.Zero(t, f.count(t, tenant.MainKey, "outbox_events"))
	assert.Equal(t, []string{"acme"}, f.flusher.notified())
	assert.Zero(t, f.notifier.calls)

	store, err := f.registry.Resolve(context.Background(), "acme")
	require.NoError(t, err)

	db, err := store.Primary()
	require.NoError(t, err)

	var tenantID, eventType, metadata string
	var category int
	require.NoError(t, db.QueryRow(`SELECT tenant_id, event_type, category, metadata FROM outbox_events`).
		Scan(&tenantID, &eventType, &category, &metadata))

	assert.Equal(t, "acme", tenantID)
	assert.Equal(t, "order.shipped", eventType)
	assert.Equal(t, int(event.Integration), category)
	assert.JSONEq(t, `{"id":"order-7","event_category":2}`, metadata)
}

func TestBridge_StagedRowsCarryEmittingExecution(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, sqliteWriter{})
	ctx := event.ContextWithLineage(tenant.SwitchTo(context.Background(), "acme"),
		event.Lineage{ParentID: "rec-1", TraceID: "trace-1"})

	unit, bridge := f.begin(t, ctx, false)
	unit.Collector().Register("order-8", event.Integration, &OrderShipped{Base: event.NewBase(), Carrier: "ups"})

	require.NoError(t, bridge.Commit(ctx))

	store, err := f.registry.Resolve(context.Background(), "acme")
	require.NoError(t, err)

	db, err := store.Primary()
	require.NoError(t, err)

	var metadata string
	require.NoError(t, db.QueryRow(`SELECT metadata FROM outbox_events`).Scan(&metadata))

	assert.JSONEq(t,
		`{"id":"order-8","event_category":2,"trace_id":"trace-1","trace_parent_id":"rec-1"}`,
		metadata)
}

func TestBridge_RollbackFlushesNothing(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, sqliteWriter{})
	ctx := context.Background()

	unit, bridge := f.begin(t, ctx, false)
	insertOrder(t, ctx, bridge, "order-1")

	unit.Collector().Register("order-1", event.Domain, &OrderCreated{Base: event.NewBase()})
	unit.Collector().Register("order-1", event.Integration, &OrderShipped{Base: event.NewBase()})

	require.NoError(t, bridge.Rollback(ctx))

	assert.Zero(t, f.count(t, tenant.MainKey, "orders"))
	assert.Zero(t, f.count(t, tenant.MainKey, "outbox_events"))
	assert.Empty(t, f.flusher.notified())
	assert.Zero(t, f.notifier.calls)
	assert.Zero(t, unit.Collector().Len())
	assert.Equal(t, uow.RolledBack, unit.State())
}

func TestBridge_StagingFailureAbortsCommit(t *testing.T) {
	t.Parallel()

	errWrite := errors.New("outbox table missing")
	f := newBridgeFixture(t, sqliteWriter{fail: errWrite})
	ctx := context.Background()

	unit, bridge := f.begin(t, ctx, false)
	insertOrder(t, ctx, bridge, "order-9")

	unit.Collector().Register("order-9", event.Domain, &OrderCreated{Base: event.NewBase()})
	unit.Collector().Register("order-9", event.Integration, &OrderShipped{Base: event.NewBase()})

	err := bridge.Commit(ctx)
	require.ErrorIs(t, err, errWrite)

	assert.Zero(t, f.count(t, tenant.MainKey, "orders"))
	assert.Empty(t, f.flusher.notified())
	assert.Zero(t, f.notifier.calls)
	assert.Equal(t, uow.RolledBack, unit.State())
}

func TestBridge_FailedCommitFlushesNothing(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, sqliteWriter{})
	ctx, cancel := context.WithCancel(context.Background())

	unit, bridge := f.begin(t, ctx, false)
	insertOrder(t, ctx, bridge, "order-3")
	unit.Collector().Register("order-3", event.Integration, &OrderShipped{Base: event.NewBase()})
	unit.Collector().Register("order-3", event.Domain, &OrderPaid{Base: event.NewBase()})

	cancel()

	require.Error(t, bridge.Commit(context.Background()))

	assert.Zero(t, f.count(t, tenant.MainKey, "orders"))
	assert.Zero(t, f.count(t, tenant.MainKey, "outbox_events"))
	assert.Empty(t, f.flusher.notified())
	assert.Zero(t, f.notifier.calls)
}

func TestBridge_AsyncCommitAndRollback(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, sqliteWriter{})
	ctx := context.Background()

	unit, bridge := f.begin(t, ctx, false)
	unit.Collector().Register("order-5", event.Integration, &OrderShipped{Base: event.NewBase()})

	select {
	case err := <-bridge.CommitAsync(ctx):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("commit did not finish")
	}

	assert.Equal(t, 1, f.count(t, tenant.MainKey, "outbox_events"))
	assert.Equal(t, []string{tenant.MainKey}, f.flusher.notified())

	_, other := f.begin(t, ctx, false)

	select {
	case err := <-other.RollbackAsync(ctx):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("rollback did not finish")
	}

	assert.Equal(t, uow.RolledBack, other.Unit().State())
}

func TestBridge_DisposeHonoursAutoCommit(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, sqliteWriter{})
	ctx := context.Background()

	_, auto := f.begin(t, ctx, true)
	insertOrder(t, ctx, auto, "order-auto")
	require.NoError(t, auto.Dispose(ctx))
	require.NoError(t, auto.Dispose(ctx))
	assert.Equal(t, uow.Committed, auto.Unit().State())

	_, manual := f.begin(t, ctx, false)
	insertOrder(t, ctx, manual, "order-manual")
	require.NoError(t, manual.Dispose(ctx))
	assert.Equal(t, uow.RolledBack, manual.Unit().State())

	assert.Equal(t, 1, f.count(t, tenant.MainKey, "orders"))
}

func TestBridge_BeginOnCompletedUnit(t *testing.T) {
	t.Parallel()

	f := newBridgeFixture(t, sqliteWriter{})

	_, unit, err := f.manager.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, unit.Commit(context.Background()))

	_, err = f.transport.BeginTransaction(unit, false)
	require.ErrorIs(t, err, uow.ErrCompleted)
}

func TestBridge_NilReceiver(t *testing.T) {
	t.Parallel()

	var bridge *Bridge

	_, err := bridge.DBTransaction(context.Background())
	require.ErrorIs(t, err, ErrBridgeRequired)
	require.ErrorIs(t, bridge.Commit(context.Background()), ErrBridgeRequired)
	require.ErrorIs(t, bridge.Rollback(context.Background()), ErrBridgeRequired)
	require.ErrorIs(t, <-bridge.CommitAsync(context.Background()), ErrBridgeRequired)
	require.NoError(t, bridge.Dispose(context.Background()))
	assert.Nil(t, bridge.Unit())
}

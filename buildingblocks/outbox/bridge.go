package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/runtime"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/uow"
)

// DomainNotifier receives the domain events of a committed unit, in
// harvest order.
type DomainNotifier interface {
	NotifyDomain(ctx context.Context, tenantKey string, events []event.Captured) error
}

// DomainNotifierFunc adapts a function to DomainNotifier.
type DomainNotifierFunc func(ctx context.Context, tenantKey string, events []event.Captured) error

// NotifyDomain calls fn.
func (fn DomainNotifierFunc) NotifyDomain(ctx context.Context, tenantKey string, events []event.Captured) error {
	return fn(ctx, tenantKey, events)
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithFlusher sets who is woken after rows were committed. Usually the
// Dispatcher of the same process.
func WithFlusher(flusher Flusher) TransportOption {
	return func(t *Transport) {
		if !nilcheck.Interface(flusher) {
			t.flusher = flusher
		}
	}
}

// WithDomainNotifier sets the in-process receiver of domain events.
func WithDomainNotifier(notifier DomainNotifier) TransportOption {
	return func(t *Transport) {
		if !nilcheck.Interface(notifier) {
			t.notifier = notifier
		}
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger log.Logger) TransportOption {
	return func(t *Transport) {
		if !nilcheck.Interface(logger) {
			t.logger = logger
		}
	}
}

// WithTransportTracer sets the tracer.
func WithTransportTracer(tracer trace.Tracer) TransportOption {
	return func(t *Transport) {
		if !nilcheck.Interface(tracer) {
			t.tracer = tracer
		}
	}
}

// Transport opens outbox bridges over units of work.
type Transport struct {
	writer   Writer
	flusher  Flusher
	notifier DomainNotifier
	logger   log.Logger
	tracer   trace.Tracer
}

// NewTransport creates a Transport staging rows through writer.
func NewTransport(writer Writer, opts ...TransportOption) (*Transport, error) {
	if nilcheck.Interface(writer) {
		return nil, ErrOutboxWriterRequired
	}

	t := &Transport{
		writer: writer,
		logger: log.NewNop(),
		tracer: noop.NewTracerProvider().Tracer("buildingblocks.noop"),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t, nil
}

// BeginTransaction binds a bridge to unit. When autoCommit is set, Dispose
// commits a unit that is still open instead of rolling it back.
func (t *Transport) BeginTransaction(unit *uow.UnitOfWork, autoCommit bool) (*Bridge, error) {
	if t == nil {
		return nil, ErrTransportRequired
	}

	if unit == nil {
		return nil, ErrUnitRequired
	}

	if unit.State() != uow.Open {
		return nil, uow.ErrCompleted
	}

	b := &Bridge{transport: t, unit: unit, autoCommit: autoCommit}

	unit.OnBeforeCommit(b.stage)
	unit.OnAfterCommit(b.flush)
	unit.OnAfterRollback(b.discard)

	return b, nil
}

// Bridge couples the commit of a unit of work with the outbox. Integration
// events become rows of the same transaction; nothing leaves the process
// unless that transaction commits.
type Bridge struct {
	transport  *Transport
	unit       *uow.UnitOfWork
	autoCommit bool

	mu       sync.Mutex
	staged   int
	domain   []event.Captured
	disposed bool
}

// Unit returns the bound unit of work.
func (b *Bridge) Unit() *uow.UnitOfWork {
	if b == nil {
		return nil
	}

	return b.unit
}

// DBTransaction returns the unit's transaction, beginning it on first use.
func (b *Bridge) DBTransaction(ctx context.Context) (*sql.Tx, error) {
	if b == nil {
		return nil, ErrBridgeRequired
	}

	return b.unit.Tx(ctx)
}

// Commit commits the unit. Staging happens inside the transaction; the
// flush runs only once the commit succeeded.
func (b *Bridge) Commit(ctx context.Context) error {
	if b == nil {
		return ErrBridgeRequired
	}

	return b.unit.Commit(ctx)
}

// CommitAsync runs Commit on its own goroutine. The channel yields exactly
// one value.
func (b *Bridge) CommitAsync(ctx context.Context) <-chan error {
	return b.async(ctx, "outbox_commit", b.Commit)
}

// Rollback rolls the unit back. Rows staged by a failed commit attempt go
// with the transaction; nothing is flushed.
func (b *Bridge) Rollback(ctx context.Context) error {
	if b == nil {
		return ErrBridgeRequired
	}

	return b.unit.Rollback(ctx)
}

// RollbackAsync runs Rollback on its own goroutine.
func (b *Bridge) RollbackAsync(ctx context.Context) <-chan error {
	return b.async(ctx, "outbox_rollback", b.Rollback)
}

// Dispose ends the bridge. An open unit is committed when the bridge was
// opened with autoCommit and disposed otherwise. Safe to call repeatedly.
func (b *Bridge) Dispose(ctx context.Context) error {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.disposed = true
	b.mu.Unlock()

	if b.autoCommit && b.unit.IsOwner() && b.unit.State() == uow.Open {
		return b.unit.Commit(ctx)
	}

	return b.unit.Dispose(ctx)
}

func (b *Bridge) async(ctx context.Context, name string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	if b == nil {
		done <- ErrBridgeRequired
		close(done)

		return done
	}

	runtime.SafeGoWithContext(ctx, b.transport.logger, "outbox", name, func(ctx context.Context) {
		err := ErrBridgeAborted

		defer func() {
			done <- err
			close(done)
		}()

		err = fn(ctx)
	})

	return done
}

// stage runs inside the transaction: integration events become outbox rows
// and domain events are held back until the commit succeeds.
func (b *Bridge) stage(ctx context.Context, unit *uow.UnitOfWork) error {
	ctx, span := b.transport.tracer.Start(ctx, "outbox.bridge.stage")
	defer span.End()

	collector := unit.Collector()
	tenantKey := unit.Tenant()

	integration := collector.Integration().Harvest(ctx)
	if len(integration) > 0 {
		tx, err := unit.Tx(ctx)
		if err != nil {
			libOpentelemetry.HandleSpanError(&span, "failed to open transaction", err)
			return err
		}

		lineage, traced := event.LineageFromContext(ctx)

		for _, captured := range integration {
			if traced {
				captured.Metadata = lineage.Apply(captured.Metadata)
			}

			row, err := FromCaptured(tenantKey, captured)
			if err != nil {
				libOpentelemetry.HandleSpanError(&span, "failed to build outbox row", err)
				return err
			}

			if _, err := b.transport.writer.CreateWithTx(ctx, tx, row); err != nil {
				libOpentelemetry.HandleSpanError(&span, "failed to stage outbox row", err)
				return fmt.Errorf("stage %s: %w", row.EventType, err)
			}
		}
	}

	domain := collector.Domain().Harvest(ctx)

	span.SetAttributes(
		attribute.Int("outbox.staged", len(integration)),
		attribute.Int("outbox.domain", len(domain)),
	)

	b.mu.Lock()
	b.staged += len(integration)
	b.domain = append(b.domain, domain...)
	b.mu.Unlock()

	return nil
}

func (b *Bridge) flush(ctx context.Context) {
	b.mu.Lock()
	staged := b.staged
	domain := b.domain
	b.staged = 0
	b.domain = nil
	b.mu.Unlock()

	tenantKey := b.unit.Tenant()
	logger := b.transport.logger

	if staged > 0 && b.transport.flusher != nil {
		b.transport.flusher.Notify(ctx, tenantKey)
	}

	if len(domain) > 0 && b.transport.notifier != nil {
		if err := b.transport.notifier.NotifyDomain(ctx, tenantKey, domain); err != nil {
			logger.Log(ctx, log.LevelError, "domain event notification failed",
				log.String("tenant", tenantKey),
				log.Int("events", len(domain)),
				log.Err(err),
			)
		}
	}

	logger.Log(ctx, log.LevelDebug, "outbox flushed",
		log.String("tenant", tenantKey),
		log.Int("staged", staged),
		log.Int("domain", len(domain)),
	)
}

func (b *Bridge) discard(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.staged = 0
	b.domain = nil
}

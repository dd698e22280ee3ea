package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a unit.
type State int

const (
	Open State = iota
	Committed
	RolledBack
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

var (
	// ErrNilUnit is returned when a unit method is called on a nil receiver.
	ErrNilUnit = errors.New("unit of work is nil")
	// ErrCompleted is returned when a committed or rolled back unit is used.
	ErrCompleted = errors.New("unit of work already completed")
	// ErrRollbackOnly is returned by Commit when a participant rolled back.
	ErrRollbackOnly = errors.New("unit of work was marked rollback-only")
)

// Hook runs inside the transaction right before it commits. Returning an
// error aborts the commit.
type Hook func(ctx context.Context, unit *UnitOfWork) error

// core is the state shared by the owner of a unit and its participants.
type core struct {
	mu           sync.Mutex
	id           uuid.UUID
	tenantKey    string
	store        *tenant.Store
	txOptions    *sql.TxOptions
	tx           *sql.Tx
	state        State
	completing   bool
	rollbackOnly bool
	collector    *event.Collector
	logger       log.Logger
	tracer       trace.Tracer

	beforeCommit  []Hook
	afterCommit   []func(ctx context.Context)
	afterRollback []func(ctx context.Context)
}

func (c *core) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// UnitOfWork is a handle on a unit. The handle returned by a Begin that
// opened the unit is its owner; a Begin that joined an ambient unit returns
// a participant handle whose Commit and Rollback defer to the owner.
type UnitOfWork struct {
	core  *core
	owner bool
}

// ID identifies the unit across owner and participant handles.
func (u *UnitOfWork) ID() uuid.UUID {
	if u == nil || u.core == nil {
		return uuid.Nil
	}

	return u.core.id
}

// Tenant returns the tenant key the unit runs against.
func (u *UnitOfWork) Tenant() string {
	if u == nil || u.core == nil {
		return ""
	}

	return u.core.tenantKey
}

// Store returns the tenant store of the unit.
func (u *UnitOfWork) Store() *tenant.Store {
	if u == nil || u.core == nil {
		return nil
	}

	return u.core.store
}

// Collector returns the event collector of the unit.
func (u *UnitOfWork) Collector() *event.Collector {
	if u == nil || u.core == nil {
		return nil
	}

	return u.core.collector
}

// IsOwner reports whether this handle opened the unit.
func (u *UnitOfWork) IsOwner() bool {
	return u != nil && u.owner
}

// State returns the lifecycle state.
func (u *UnitOfWork) State() State {
	if u == nil || u.core == nil {
		return RolledBack
	}

	return u.core.currentState()
}

// Tx returns the transaction of the unit, beginning it on first use.
func (u *UnitOfWork) Tx(ctx context.Context) (*sql.Tx, error) {
	if u == nil || u.core == nil {
		return nil, ErrNilUnit
	}

	c := u.core

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open {
		return nil, ErrCompleted
	}

	if c.tx != nil {
		return c.tx, nil
	}

	tx, err := c.store.BeginTx(ctx, c.txOptions)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work transaction: %w", err)
	}

	c.tx = tx

	return tx, nil
}

// OnBeforeCommit registers a hook run inside the transaction at commit.
func (u *UnitOfWork) OnBeforeCommit(hook Hook) {
	if u == nil || u.core == nil || hook == nil {
		return
	}

	u.core.mu.Lock()
	defer u.core.mu.Unlock()

	u.core.beforeCommit = append(u.core.beforeCommit, hook)
}

// OnAfterCommit registers fn to run once the transaction has committed.
func (u *UnitOfWork) OnAfterCommit(fn func(ctx context.Context)) {
	if u == nil || u.core == nil || fn == nil {
		return
	}

	u.core.mu.Lock()
	defer u.core.mu.Unlock()

	u.core.afterCommit = append(u.core.afterCommit, fn)
}

// OnAfterRollback registers fn to run once the unit has rolled back.
func (u *UnitOfWork) OnAfterRollback(fn func(ctx context.Context)) {
	if u == nil || u.core == nil || fn == nil {
		return
	}

	u.core.mu.Lock()
	defer u.core.mu.Unlock()

	u.core.afterRollback = append(u.core.afterRollback, fn)
}

// begin marks the unit as completing so concurrent Commit/Rollback calls
// fail fast while hooks run outside the lock.
func (c *core) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open || c.completing {
		return ErrCompleted
	}

	c.completing = true

	return nil
}

// Commit commits an owned unit. For a participant it only checks that the
// unit is still open.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u == nil || u.core == nil {
		return ErrNilUnit
	}

	if !u.owner {
		if u.core.currentState() != Open {
			return ErrCompleted
		}

		return nil
	}

	c := u.core

	if err := c.begin(); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "uow.commit")
	defer span.End()

	c.mu.Lock()
	rollbackOnly := c.rollbackOnly
	hooks := append([]Hook(nil), c.beforeCommit...)
	c.mu.Unlock()

	if rollbackOnly {
		return errors.Join(ErrRollbackOnly, c.abort(ctx))
	}

	for _, hook := range hooks {
		if err := hook(ctx, u); err != nil {
			libOpentelemetry.HandleSpanError(&span, "before-commit hook failed", err)

			return errors.Join(fmt.Errorf("before commit: %w", err), c.abort(ctx))
		}
	}

	c.mu.Lock()
	tx := c.tx
	c.mu.Unlock()

	if tx != nil {
		if err := tx.Commit(); err != nil {
			libOpentelemetry.HandleSpanError(&span, "commit failed", err)

			return errors.Join(fmt.Errorf("commit unit of work: %w", err), c.abort(ctx))
		}
	}

	c.mu.Lock()
	c.state = Committed
	c.completing = false
	after := append([]func(context.Context){}, c.afterCommit...)
	c.mu.Unlock()

	c.logger.Log(ctx, log.LevelDebug, "unit of work committed",
		log.String("uow_id", c.id.String()),
		log.String("tenant", c.tenantKey),
	)

	for _, fn := range after {
		fn(ctx)
	}

	c.collector.Clear()

	return nil
}

// Rollback discards an owned unit and its captured events. For a
// participant it marks the owner rollback-only.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u == nil || u.core == nil {
		return ErrNilUnit
	}

	c := u.core

	if !u.owner {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.state != Open {
			return ErrCompleted
		}

		c.rollbackOnly = true

		return nil
	}

	if err := c.begin(); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "uow.rollback")
	defer span.End()

	if err := c.abort(ctx); err != nil {
		libOpentelemetry.HandleSpanError(&span, "rollback failed", err)
		return err
	}

	return nil
}

// abort rolls the transaction back, clears the collector and runs the
// after-rollback callbacks. The unit ends RolledBack whatever happens.
func (c *core) abort(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.mu.Unlock()

	var err error

	if tx != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("rollback unit of work: %w", rbErr)
		}
	}

	c.collector.Clear()

	c.mu.Lock()
	c.state = RolledBack
	c.completing = false
	after := append([]func(context.Context){}, c.afterRollback...)
	c.mu.Unlock()

	c.logger.Log(ctx, log.LevelDebug, "unit of work rolled back",
		log.String("uow_id", c.id.String()),
		log.String("tenant", c.tenantKey),
	)

	for _, fn := range after {
		fn(ctx)
	}

	return err
}

// Dispose rolls back an owned unit that is still open. It is safe to call
// any number of times, after Commit or Rollback included.
func (u *UnitOfWork) Dispose(ctx context.Context) error {
	if u == nil || u.core == nil || !u.owner {
		return nil
	}

	if u.core.currentState() != Open {
		return nil
	}

	if err := u.Rollback(ctx); err != nil && !errors.Is(err, ErrCompleted) {
		return err
	}

	return nil
}

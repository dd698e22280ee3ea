package tracing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/runtime"
)

const (
	defaultWriteTimeout = 5 * time.Second
	flushPollInterval   = time.Millisecond
)

// ErrQueueRunning is returned when a second drain loop is started.
var ErrQueueRunning = errors.New("trace queue drain loop already running")

type node struct {
	next atomic.Pointer[node]
	rec  Record
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithLogger sets the logger storage failures are reported to.
func WithLogger(logger log.Logger) QueueOption {
	return func(q *Queue) {
		if !nilcheck.Interface(logger) {
			q.logger = logger
		}
	}
}

// WithWriteTimeout bounds each Store.Write call.
func WithWriteTimeout(timeout time.Duration) QueueOption {
	return func(q *Queue) {
		if timeout > 0 {
			q.writeTimeout = timeout
		}
	}
}

// WithMeterProvider sets the provider of the queue instruments.
func WithMeterProvider(provider metric.MeterProvider) QueueOption {
	return func(q *Queue) {
		q.meterProvider = provider
	}
}

// Queue is a multi-producer single-consumer trace record queue. Enqueue is
// a lock-free linked-list append; the drain loop owns head.
type Queue struct {
	store         Store
	logger        log.Logger
	writeTimeout  time.Duration
	meterProvider metric.MeterProvider
	metrics       queueMetrics

	head    *node
	tail    atomic.Pointer[node]
	pending atomic.Int64
	wake    chan struct{}

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

// NewQueue creates a queue persisting into store. Start the drain loop with
// RunContext, or hand the queue to a Launcher.
func NewQueue(store Store, opts ...QueueOption) (*Queue, error) {
	if nilcheck.Interface(store) {
		return nil, ErrStoreRequired
	}

	stub := &node{}

	q := &Queue{
		store:        store,
		logger:       log.NewNop(),
		writeTimeout: defaultWriteTimeout,
		head:         stub,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	q.tail.Store(stub)

	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}

	metrics, err := newQueueMetrics(q.meterProvider, q.Pending)
	if err != nil {
		return nil, err
	}

	q.metrics = metrics

	return q, nil
}

// Write enqueues rec and wakes the drain loop. It never blocks and never
// fails; a record without id gets one.
func (q *Queue) Write(rec Record) {
	if q == nil || q.tail.Load() == nil {
		return
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	q.pending.Add(1)

	n := &node{rec: rec}
	prev := q.tail.Swap(n)
	prev.next.Store(n)

	if q.metrics.enqueued != nil {
		q.metrics.enqueued.Add(context.Background(), 1)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of records written but not yet persisted.
func (q *Queue) Pending() int64 {
	if q == nil {
		return 0
	}

	return max(q.pending.Load(), 0)
}

// Run implements buildingblocks.App.
func (q *Queue) Run(launcher *buildingblocks.Launcher) error {
	return q.RunContext(launcher.Context())
}

// RunContext drains the queue each time it is woken until ctx is done or
// Stop is called, then persists what is left and returns.
func (q *Queue) RunContext(ctx context.Context) error {
	if q == nil || q.tail.Load() == nil {
		return ErrStoreRequired
	}

	if !q.running.CompareAndSwap(false, true) {
		return ErrQueueRunning
	}

	if ctx == nil {
		ctx = context.Background()
	}

	defer runtime.RecoverAndLogWithContext(ctx, q.logger, "tracing", "queue_drain")

	q.logger.Log(ctx, log.LevelInfo, "trace queue started")

	for {
		select {
		case <-q.wake:
			q.drain(ctx)
		case <-ctx.Done():
			q.drain(context.WithoutCancel(ctx))
			q.logger.Log(context.WithoutCancel(ctx), log.LevelInfo, "trace queue stopped")

			return nil
		case <-q.stop:
			q.drain(ctx)
			q.logger.Log(ctx, log.LevelInfo, "trace queue stopped")

			return nil
		}
	}
}

// Stop ends the drain loop after a final drain.
func (q *Queue) Stop() {
	if q == nil || q.stop == nil {
		return
	}

	q.stopOnce.Do(func() {
		close(q.stop)
	})
}

// Flush waits until every record written so far was handed to the store.
func (q *Queue) Flush(ctx context.Context) error {
	if q == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()

	for q.Pending() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush trace queue: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	return nil
}

// drain persists records until the list is empty. A producer still linking
// its node sends a wake after it, so stopping at an unlinked tail loses
// nothing.
func (q *Queue) drain(ctx context.Context) {
	for {
		next := q.head.next.Load()
		if next == nil {
			return
		}

		rec := next.rec
		next.rec = Record{}
		q.head = next

		q.persist(ctx, rec)
		q.pending.Add(-1)
	}
}

func (q *Queue) persist(ctx context.Context, rec Record) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.writeTimeout)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			q.recordFailure(writeCtx, rec, fmt.Errorf("store panicked: %v", recovered))
		}
	}()

	if err := q.store.Write(writeCtx, rec); err != nil {
		q.recordFailure(writeCtx, rec, err)

		return
	}

	if q.metrics.persisted != nil {
		q.metrics.persisted.Add(writeCtx, 1)
	}
}

func (q *Queue) recordFailure(ctx context.Context, rec Record, err error) {
	if q.metrics.failed != nil {
		q.metrics.failed.Add(ctx, 1)
	}

	q.logger.Log(ctx, log.LevelWarn, "failed to persist trace record",
		log.String("record_id", rec.ID),
		log.String("trace_id", rec.TraceID),
		log.Err(err),
	)
}

package outbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/backoff"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/runtime"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
)

const overflowTenantMetricLabel = "_other"

// Flusher is woken after a unit of work that staged rows for a tenant has
// committed.
type Flusher interface {
	Notify(ctx context.Context, tenantKey string)
}

// Dispatcher publishes outbox rows through a HandlerRegistry.
type Dispatcher struct {
	repo            OutboxRepository
	handlers        *HandlerRegistry
	retryClassifier RetryClassifier
	logger          log.Logger
	tracer          trace.Tracer
	cfg             DispatcherConfig

	listPendingFailures map[string]int
	failuresMu          sync.Mutex
	tenantMetricKeys    map[string]struct{}
	tenantMetricMu      sync.Mutex

	wake    chan struct{}
	woken   map[string]struct{}
	wokenMu sync.Mutex

	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	dispatchWg sync.WaitGroup
	tenantTurn int

	metrics dispatcherMetrics
}

var (
	_ buildingblocks.App = (*Dispatcher)(nil)
	_ Flusher            = (*Dispatcher)(nil)
)

// DispatchResult counts the outcome of one tenant dispatch cycle.
type DispatchResult struct {
	Processed         int
	Published         int
	Failed            int
	StateUpdateFailed int
}

// NewDispatcher creates a dispatcher over repo.
func NewDispatcher(
	repo OutboxRepository,
	handlers *HandlerRegistry,
	logger log.Logger,
	tracer trace.Tracer,
	opts ...DispatcherOption,
) (*Dispatcher, error) {
	if nilcheck.Interface(repo) {
		return nil, ErrOutboxRepositoryRequired
	}

	if handlers == nil {
		return nil, ErrHandlerRegistryRequired
	}

	if nilcheck.Interface(tracer) {
		tracer = noop.NewTracerProvider().Tracer("buildingblocks.noop")
	}

	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	dispatcher := &Dispatcher{
		repo:                repo,
		handlers:            handlers,
		logger:              logger,
		tracer:              tracer,
		cfg:                 DefaultDispatcherConfig(),
		listPendingFailures: make(map[string]int),
		tenantMetricKeys:    make(map[string]struct{}),
		wake:                make(chan struct{}, 1),
		woken:               make(map[string]struct{}),
		stop:                make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}

	dispatcher.cfg.normalize()

	if dispatcher.cfg.IncludeTenantMetrics {
		dispatcher.logger.Log(context.Background(), log.LevelWarn,
			"outbox tenant metric attributes enabled",
			log.Int("max_dimensions", dispatcher.cfg.MaxTenantMetricDimensions),
			log.String("overflow_label", overflowTenantMetricLabel),
		)
	}

	metrics, err := newDispatcherMetrics(dispatcher.cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("init outbox metrics: %w", err)
	}

	dispatcher.metrics = metrics

	return dispatcher, nil
}

// Run implements buildingblocks.App. It stops with the launcher context.
func (dispatcher *Dispatcher) Run(launcher *buildingblocks.Launcher) error {
	return dispatcher.RunContext(launcher.Context(), launcher)
}

// RunContext runs the dispatch loop until Stop is called or ctx is done.
// Each iteration is either a polling tick across every tenant or a wake-up
// for the tenants passed to Notify since the previous iteration.
func (dispatcher *Dispatcher) RunContext(parentCtx context.Context, launcher *buildingblocks.Launcher) error {
	if dispatcher == nil || dispatcher.repo == nil || dispatcher.handlers == nil {
		return ErrOutboxDispatcherRequired
	}

	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if !dispatcher.registerRun(cancel) {
		cancel()

		return ErrOutboxDispatcherRunning
	}

	defer dispatcher.clearRun()

	if launcher != nil && launcher.Logger != nil {
		launcher.Logger.Log(ctx, log.LevelInfo, "outbox dispatcher started")
		defer launcher.Logger.Log(context.Background(), log.LevelInfo, "outbox dispatcher stopped")
	}

	defer runtime.RecoverAndLogWithContext(ctx, dispatcher.logger, "outbox", "dispatcher_run")

	ticker := time.NewTicker(dispatcher.cfg.DispatchInterval)
	defer ticker.Stop()

	dispatcher.cycle(ctx, "outbox.dispatcher.initial_dispatch", nil)

	for {
		select {
		case <-dispatcher.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-dispatcher.wake:
			tenants := dispatcher.takeWoken()
			if len(tenants) == 0 {
				continue
			}

			if dispatcher.metrics.wakeups != nil {
				dispatcher.metrics.wakeups.Add(ctx, 1)
			}
			dispatcher.cycle(ctx, "outbox.dispatcher.wake", tenants)
		case <-ticker.C:
			dispatcher.cycle(ctx, "outbox.dispatcher.dispatch_once", nil)
		}
	}
}

func (dispatcher *Dispatcher) cycle(ctx context.Context, spanName string, tenants []string) {
	select {
	case <-dispatcher.stop:
		return
	default:
	}

	if ctx.Err() != nil {
		return
	}

	dispatcher.dispatchWg.Add(1)
	defer dispatcher.dispatchWg.Done()

	cycleCtx, span := dispatcher.tracer.Start(ctx, spanName)
	defer span.End()
	defer runtime.RecoverAndLogWithContext(cycleCtx, dispatcher.logger, "outbox", "dispatcher_cycle")

	if tenants == nil {
		dispatcher.dispatchAcrossTenants(cycleCtx)

		return
	}

	dispatcher.dispatchTenants(cycleCtx, dispatcher.tracer, tenants)
}

// Notify schedules an immediate dispatch for tenantKey. It never blocks;
// notifications arriving while a cycle runs are coalesced into the next one.
func (dispatcher *Dispatcher) Notify(_ context.Context, tenantKey string) {
	if dispatcher == nil {
		return
	}

	key := strings.TrimSpace(tenantKey)
	if key == "" {
		key = tenant.MainKey
	}

	dispatcher.wokenMu.Lock()
	if dispatcher.woken == nil {
		dispatcher.woken = make(map[string]struct{})
	}
	dispatcher.woken[key] = struct{}{}
	dispatcher.wokenMu.Unlock()

	select {
	case dispatcher.wake <- struct{}{}:
	default:
	}
}

func (dispatcher *Dispatcher) takeWoken() []string {
	dispatcher.wokenMu.Lock()
	defer dispatcher.wokenMu.Unlock()

	keys := slices.Sorted(maps.Keys(dispatcher.woken))
	clear(dispatcher.woken)

	return keys
}

// Stop signals the loop to return.
func (dispatcher *Dispatcher) Stop() {
	if dispatcher == nil {
		return
	}

	dispatcher.stopOnce.Do(func() {
		dispatcher.runStateMu.Lock()
		cancel := dispatcher.cancelFunc
		stop := dispatcher.stop
		if stop == nil {
			stop = make(chan struct{})
			dispatcher.stop = stop
		}
		dispatcher.runStateMu.Unlock()

		if cancel != nil {
			cancel()
		}

		close(stop)
	})
}

// Shutdown stops the loop and waits for the in-flight cycle.
func (dispatcher *Dispatcher) Shutdown(ctx context.Context) error {
	if dispatcher == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	dispatcher.Stop()

	done := make(chan struct{})

	runtime.SafeGo(dispatcher.logger, "outbox.dispatcher_shutdown_wait", func() {
		dispatcher.dispatchWg.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// DispatchOnce runs one cycle for the tenant carried by ctx.
func (dispatcher *Dispatcher) DispatchOnce(ctx context.Context) int {
	return dispatcher.DispatchOnceResult(ctx).Processed
}

// DispatchOnceResult runs one cycle for the tenant carried by ctx and
// returns its counters. Rows are published before they are marked
// PUBLISHED, so a failed state update means the row may be sent again.
func (dispatcher *Dispatcher) DispatchOnceResult(ctx context.Context) DispatchResult {
	if dispatcher == nil || dispatcher.repo == nil || dispatcher.handlers == nil {
		return DispatchResult{}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger := dispatcher.logger
	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	tracer := dispatcher.tracer
	if nilcheck.Interface(tracer) {
		tracer = noop.NewTracerProvider().Tracer("buildingblocks.noop")
	}

	start := time.Now()

	ctx, span := tracer.Start(ctx, "outbox.dispatch")
	defer span.End()

	tenantKey := tenant.Current(ctx)
	events := dispatcher.collectEvents(ctx, span)

	dispatcher.recordQueueDepth(ctx, tenantKey, int64(len(events)))

	var result DispatchResult

	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}

		if ev == nil {
			continue
		}

		result.Processed++

		if err := dispatcher.publishEventWithRetry(ctx, ev); err != nil {
			dispatcher.handlePublishError(ctx, logger, ev, err)

			result.Failed++

			continue
		}

		result.Published++

		if err := dispatcher.repo.MarkPublished(ctx, ev.ID, time.Now().UTC()); err != nil {
			logger.Log(ctx, log.LevelError,
				"outbox event published but PUBLISHED state not persisted; it may be sent again",
				log.String("event_id", ev.ID.String()),
				log.String("error", sanitizeErrorForStorage(err)),
			)
			dispatcher.addStateUpdateFailure(ctx, tenantKey, 1)

			result.StateUpdateFailed++
		}
	}

	dispatcher.addDispatchedEvents(ctx, tenantKey, int64(result.Published))
	dispatcher.addFailedEvents(ctx, tenantKey, int64(result.Failed))
	dispatcher.recordDispatchLatency(ctx, tenantKey, time.Since(start).Seconds())

	return result
}

// dispatchAcrossTenants runs tenants sequentially, rotating the first
// tenant between cycles so one slow tenant does not always go first.
func (dispatcher *Dispatcher) dispatchAcrossTenants(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	logger, tracer := dispatcher.logger, dispatcher.tracer

	ctx, span := tracer.Start(ctx, "outbox.dispatcher.tenants")
	defer span.End()

	tenants, err := dispatcher.repo.ListTenants(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to list tenants", err)
		log.SafeError(logger, ctx, "failed to list tenants", err, false)

		return
	}

	ordered := dispatcher.tenantDispatchOrder(nonEmptyTenants(tenants))
	if len(ordered) == 0 {
		ordered = []string{tenant.MainKey}
	}

	dispatcher.dispatchTenants(ctx, tracer, ordered)
}

func (dispatcher *Dispatcher) dispatchTenants(ctx context.Context, tracer trace.Tracer, tenants []string) {
	for _, tenantKey := range tenants {
		if ctx.Err() != nil {
			break
		}

		tenantCtx, tenantSpan := tracer.Start(tenant.SwitchTo(ctx, tenantKey), "outbox.dispatcher.tenant")
		result := dispatcher.DispatchOnceResult(tenantCtx)
		tenantSpan.SetAttributes(
			attribute.String("tenant.id_hash", HashTenantID(tenantKey)),
			attribute.Int("outbox.dispatch.processed", result.Processed),
			attribute.Int("outbox.dispatch.published", result.Published),
			attribute.Int("outbox.dispatch.failed", result.Failed),
			attribute.Int("outbox.dispatch.state_update_failed", result.StateUpdateFailed),
		)
		tenantSpan.End()
	}
}

func nonEmptyTenants(tenants []string) []string {
	result := make([]string, 0, len(tenants))

	for _, tenantKey := range tenants {
		if tenantKey = strings.TrimSpace(tenantKey); tenantKey != "" {
			result = append(result, tenantKey)
		}
	}

	return result
}

func (dispatcher *Dispatcher) registerRun(cancel context.CancelFunc) bool {
	dispatcher.runStateMu.Lock()
	defer dispatcher.runStateMu.Unlock()

	if dispatcher.running {
		return false
	}

	if dispatcher.stop == nil || isClosedSignal(dispatcher.stop) {
		dispatcher.stop = make(chan struct{})
		dispatcher.stopOnce = sync.Once{}
	}

	dispatcher.running = true
	dispatcher.cancelFunc = cancel

	return true
}

func (dispatcher *Dispatcher) clearRun() {
	dispatcher.runStateMu.Lock()
	defer dispatcher.runStateMu.Unlock()

	dispatcher.running = false
	dispatcher.cancelFunc = nil
}

func (dispatcher *Dispatcher) tenantDispatchOrder(tenants []string) []string {
	if len(tenants) <= 1 {
		return slices.Clone(tenants)
	}

	dispatcher.runStateMu.Lock()
	start := dispatcher.tenantTurn % len(tenants)
	dispatcher.tenantTurn = (dispatcher.tenantTurn + 1) % len(tenants)
	dispatcher.runStateMu.Unlock()

	ordered := make([]string, 0, len(tenants))
	ordered = append(ordered, tenants[start:]...)
	ordered = append(ordered, tenants[:start]...)

	return ordered
}

// collectEvents selects the rows of one cycle, in layers:
//
//  1. pending rows of PriorityEventTypes, up to PriorityBudget
//  2. PROCESSING rows older than ProcessingTimeout
//  3. FAILED rows older than RetryWindow with attempts left
//  4. the oldest remaining PENDING rows
//
// The batch is bounded by BatchSize and deduplicated by id.
func (dispatcher *Dispatcher) collectEvents(ctx context.Context, span trace.Span) []*OutboxEvent {
	now := time.Now().UTC()
	failedBefore := now.Add(-dispatcher.cfg.RetryWindow)
	processingBefore := now.Add(-dispatcher.cfg.ProcessingTimeout)

	all := dispatcher.collectPriorityEvents(ctx, span, min(dispatcher.cfg.PriorityBudget, dispatcher.cfg.BatchSize))

	stuckLimit := dispatcher.cfg.BatchSize - len(all)
	if stuckLimit <= 0 {
		return deduplicateEvents(all)
	}

	stuck, err := dispatcher.repo.ResetStuckProcessing(ctx, stuckLimit, processingBefore, dispatcher.cfg.MaxDispatchAttempts)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to reset stuck events", err)
		log.SafeError(dispatcher.logger, ctx, "failed to reset stuck events", err, false)
	}

	all = append(all, stuck...)

	failedLimit := min(dispatcher.cfg.BatchSize-len(all), dispatcher.cfg.MaxFailedPerBatch)
	if failedLimit <= 0 {
		return deduplicateEvents(all)
	}

	failed, err := dispatcher.repo.ResetForRetry(ctx, failedLimit, failedBefore, dispatcher.cfg.MaxDispatchAttempts)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to reset failed events for retry", err)
		log.SafeError(dispatcher.logger, ctx, "failed to reset failed events for retry", err, false)
	}

	all = append(all, failed...)

	remaining := dispatcher.cfg.BatchSize - len(all)
	if remaining <= 0 {
		return deduplicateEvents(all)
	}

	tenantKey := tenant.Current(ctx)

	pending, err := dispatcher.repo.ListPending(ctx, remaining)
	if err != nil {
		dispatcher.handleListPendingError(ctx, span, tenantKey, err)

		return deduplicateEvents(all)
	}

	dispatcher.clearListPendingFailures(tenantKey)

	return deduplicateEvents(append(all, pending...))
}

func deduplicateEvents(events []*OutboxEvent) []*OutboxEvent {
	if len(events) == 0 {
		return events
	}

	seen := make(map[uuid.UUID]struct{}, len(events))
	result := make([]*OutboxEvent, 0, len(events))

	for _, ev := range events {
		if ev == nil {
			continue
		}

		if _, dup := seen[ev.ID]; dup {
			continue
		}

		seen[ev.ID] = struct{}{}
		result = append(result, ev)
	}

	return result
}

func (dispatcher *Dispatcher) collectPriorityEvents(ctx context.Context, span trace.Span, budget int) []*OutboxEvent {
	if budget <= 0 || len(dispatcher.cfg.PriorityEventTypes) == 0 {
		return nil
	}

	var result []*OutboxEvent

	for _, eventType := range dispatcher.cfg.PriorityEventTypes {
		remaining := budget - len(result)
		if remaining <= 0 {
			break
		}

		events, err := dispatcher.repo.ListPendingByType(ctx, eventType, remaining)
		if err != nil {
			libOpentelemetry.HandleSpanError(&span, "failed to list priority events", err)
			log.SafeError(dispatcher.logger, ctx, "failed to list priority events", err, false)

			continue
		}

		result = append(result, events...)
	}

	return result
}

// HashTenantID returns a short stable digest of a tenant key for span
// attributes and logs, so raw tenant identifiers never leave the process.
func HashTenantID(tenantKey string) string {
	if tenantKey == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(tenantKey))

	return hex.EncodeToString(sum[:8])
}

func isClosedSignal(signal <-chan struct{}) bool {
	select {
	case <-signal:
		return true
	default:
		return false
	}
}

func (dispatcher *Dispatcher) handleListPendingError(ctx context.Context, span trace.Span, tenantKey string, err error) {
	libOpentelemetry.HandleSpanError(&span, "failed to list outbox events", err)
	log.SafeError(dispatcher.logger, ctx, "failed to list outbox events", err, false)

	dispatcher.failuresMu.Lock()
	dispatcher.listPendingFailures[tenantKey]++
	count := dispatcher.listPendingFailures[tenantKey]
	dispatcher.failuresMu.Unlock()

	if count >= dispatcher.cfg.ListPendingFailureThreshold {
		dispatcher.logger.Log(ctx, log.LevelError, "outbox list pending failures exceeded threshold",
			log.Int("count", count),
			log.String("tenant_hash", HashTenantID(tenantKey)),
		)
	}
}

func (dispatcher *Dispatcher) clearListPendingFailures(tenantKey string) {
	dispatcher.failuresMu.Lock()
	defer dispatcher.failuresMu.Unlock()

	delete(dispatcher.listPendingFailures, tenantKey)
}

func (dispatcher *Dispatcher) publishEventWithRetry(ctx context.Context, ev *OutboxEvent) error {
	maxAttempts := dispatcher.cfg.PublishMaxAttempts

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := dispatcher.publishEvent(ctx, ev)
		if err == nil {
			return nil
		}

		lastErr = fmt.Errorf("publish attempt %d/%d failed: %w", attempt+1, maxAttempts, err)
		if dispatcher.isNonRetryableError(err) || attempt == maxAttempts-1 {
			break
		}

		delay := backoff.ExponentialWithJitter(dispatcher.cfg.PublishBackoff, attempt)
		if waitErr := backoff.WaitContext(ctx, delay); waitErr != nil {
			lastErr = fmt.Errorf("publish retry wait interrupted: %w", waitErr)
			break
		}
	}

	return lastErr
}

func (dispatcher *Dispatcher) publishEvent(ctx context.Context, ev *OutboxEvent) error {
	if len(ev.Payload) == 0 {
		return ErrOutboxEventPayloadRequired
	}

	return dispatcher.handlers.Handle(ctx, ev)
}

func (dispatcher *Dispatcher) handlePublishError(ctx context.Context, logger log.Logger, ev *OutboxEvent, err error) {
	msg := sanitizeErrorForStorage(err)

	if dispatcher.isNonRetryableError(err) {
		if markErr := dispatcher.repo.MarkInvalid(ctx, ev.ID, msg); markErr != nil {
			logger.Log(ctx, log.LevelError, "failed to mark outbox event invalid",
				log.String("event_id", ev.ID.String()),
				log.String("error", sanitizeErrorForStorage(markErr)),
			)
		}

		return
	}

	if markErr := dispatcher.repo.MarkFailed(ctx, ev.ID, msg, dispatcher.cfg.MaxDispatchAttempts); markErr != nil {
		logger.Log(ctx, log.LevelError, "failed to mark outbox event failed",
			log.String("event_id", ev.ID.String()),
			log.String("error", sanitizeErrorForStorage(markErr)),
		)
	}
}

func (dispatcher *Dispatcher) isNonRetryableError(err error) bool {
	if err == nil || nilcheck.Interface(dispatcher.retryClassifier) {
		return false
	}

	return dispatcher.retryClassifier.IsNonRetryable(err)
}

func (dispatcher *Dispatcher) tenantMetricAttribute(tenantKey string) (attribute.KeyValue, bool) {
	if !dispatcher.cfg.IncludeTenantMetrics {
		return attribute.KeyValue{}, false
	}

	return attribute.String("tenant", dispatcher.boundedTenantMetricKey(tenantKey)), true
}

func (dispatcher *Dispatcher) boundedTenantMetricKey(tenantKey string) string {
	dispatcher.tenantMetricMu.Lock()
	defer dispatcher.tenantMetricMu.Unlock()

	if _, exists := dispatcher.tenantMetricKeys[tenantKey]; exists {
		return tenantKey
	}

	if len(dispatcher.tenantMetricKeys) < dispatcher.cfg.MaxTenantMetricDimensions {
		dispatcher.tenantMetricKeys[tenantKey] = struct{}{}

		return tenantKey
	}

	return overflowTenantMetricLabel
}

func (dispatcher *Dispatcher) tenantAddOptions(tenantKey string) []metric.AddOption {
	if attr, ok := dispatcher.tenantMetricAttribute(tenantKey); ok {
		return []metric.AddOption{metric.WithAttributes(attr)}
	}

	return nil
}

func (dispatcher *Dispatcher) tenantRecordOptions(tenantKey string) []metric.RecordOption {
	if attr, ok := dispatcher.tenantMetricAttribute(tenantKey); ok {
		return []metric.RecordOption{metric.WithAttributes(attr)}
	}

	return nil
}

func (dispatcher *Dispatcher) recordQueueDepth(ctx context.Context, tenantKey string, depth int64) {
	if dispatcher.metrics.queueDepth == nil {
		return
	}

	dispatcher.metrics.queueDepth.Record(ctx, depth, dispatcher.tenantRecordOptions(tenantKey)...)
}

func (dispatcher *Dispatcher) addDispatchedEvents(ctx context.Context, tenantKey string, count int64) {
	if dispatcher.metrics.eventsDispatched == nil || count <= 0 {
		return
	}

	dispatcher.metrics.eventsDispatched.Add(ctx, count, dispatcher.tenantAddOptions(tenantKey)...)
}

func (dispatcher *Dispatcher) addFailedEvents(ctx context.Context, tenantKey string, count int64) {
	if dispatcher.metrics.eventsFailed == nil || count <= 0 {
		return
	}

	dispatcher.metrics.eventsFailed.Add(ctx, count, dispatcher.tenantAddOptions(tenantKey)...)
}

func (dispatcher *Dispatcher) addStateUpdateFailure(ctx context.Context, tenantKey string, count int64) {
	if dispatcher.metrics.eventsStateFailed == nil || count <= 0 {
		return
	}

	dispatcher.metrics.eventsStateFailed.Add(ctx, count, dispatcher.tenantAddOptions(tenantKey)...)
}

func (dispatcher *Dispatcher) recordDispatchLatency(ctx context.Context, tenantKey string, latencySeconds float64) {
	if dispatcher.metrics.dispatchLatency == nil {
		return
	}

	dispatcher.metrics.dispatchLatency.Record(ctx, latencySeconds, dispatcher.tenantRecordOptions(tenantKey)...)
}

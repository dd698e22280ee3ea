package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/outbox"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
)

const (
	maxSQLIdentifierLength    = 63
	defaultTableName          = "outbox_events"
	defaultTransactionTimeout = 30 * time.Second
	exhaustedAttemptsMessage  = "max dispatch attempts exceeded"
)

var (
	ErrConnectionRequired        = errors.New("postgres connection is required")
	ErrTransactionRequired       = errors.New("postgres transaction is required")
	ErrStateTransitionConflict   = errors.New("outbox event state transition conflict")
	ErrRepositoryNotInitialized  = errors.New("outbox repository not initialized")
	ErrLimitMustBePositive       = errors.New("limit must be greater than zero")
	ErrIDRequired                = errors.New("id is required")
	ErrMaxAttemptsMustBePositive = errors.New("maxAttempts must be greater than zero")
	ErrStoreResolverRequired     = errors.New("tenant store resolver is required")
	ErrTenantDiscovererRequired  = errors.New("tenant discoverer is required")
	ErrTenantMismatch            = errors.New("outbox event tenant does not match context tenant")
	ErrInvalidIdentifier         = errors.New("invalid sql identifier")

	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	outboxColumns     = "id, event_type, aggregate_id, category, tenant_id, payload, metadata, status, attempts, published_at, last_error, created_at, updated_at"
)

// StoreResolver returns the data store of a tenant. *tenant.Registry
// satisfies it.
type StoreResolver interface {
	Resolve(ctx context.Context, key string) (*tenant.Store, error)
}

// TenantDiscoverer lists the tenants the dispatcher should visit.
// *tenant.Registry satisfies it.
type TenantDiscoverer interface {
	DiscoverTenants(ctx context.Context) ([]string, error)
}

type Option func(*Repository)

func WithLogger(logger log.Logger) Option {
	return func(repo *Repository) {
		if nilcheck.Interface(logger) {
			return
		}

		repo.logger = logger
	}
}

func WithTableName(tableName string) Option {
	return func(repo *Repository) {
		repo.tableName = tableName
	}
}

func WithTransactionTimeout(timeout time.Duration) Option {
	return func(repo *Repository) {
		if timeout > 0 {
			repo.transactionTimeout = timeout
		}
	}
}

// Repository persists outbox rows in the PostgreSQL store of each tenant.
type Repository struct {
	stores             StoreResolver
	discoverer         TenantDiscoverer
	logger             log.Logger
	tableName          string
	transactionTimeout time.Duration
}

var _ outbox.OutboxRepository = (*Repository)(nil)

// NewRepository creates a PostgreSQL outbox repository.
func NewRepository(stores StoreResolver, discoverer TenantDiscoverer, opts ...Option) (*Repository, error) {
	if nilcheck.Interface(stores) {
		return nil, ErrStoreResolverRequired
	}

	if nilcheck.Interface(discoverer) {
		return nil, ErrTenantDiscovererRequired
	}

	repo := &Repository{
		stores:             stores,
		discoverer:         discoverer,
		logger:             log.NewNop(),
		tableName:          defaultTableName,
		transactionTimeout: defaultTransactionTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	repo.tableName = strings.TrimSpace(repo.tableName)
	if repo.tableName == "" {
		repo.tableName = defaultTableName
	}

	if err := validateIdentifierPath(repo.tableName); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}

	return repo, nil
}

// GetByID retrieves an outbox row of the current tenant by id.
func (repo *Repository) GetByID(ctx context.Context, id uuid.UUID) (*outbox.OutboxEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if id == uuid.Nil {
		return nil, ErrIDRequired
	}

	ctx, span := repo.startSpan(ctx, "postgres.get_outbox_by_id")
	defer span.End()

	tenantID := tenant.Current(ctx)

	result, err := withTenantTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (*outbox.OutboxEvent, error) {
		query := "SELECT " + outboxColumns + " FROM " + repo.table() + " WHERE id = $1 AND tenant_id = $2"

		return scanOutboxEvent(tx.QueryRowContext(ctx, query, id, tenantID))
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			libOpentelemetry.HandleSpanError(&span, "failed to get outbox event", err)
			repo.logSanitizedError(ctx, "failed to get outbox event", err)
		}

		return nil, fmt.Errorf("getting outbox event: %w", err)
	}

	return result, nil
}

// Create stores a new outbox row in its own transaction.
func (repo *Repository) Create(ctx context.Context, event *outbox.OutboxEvent) (*outbox.OutboxEvent, error) {
	return repo.create(ctx, nil, event)
}

// CreateWithTx stores a new outbox row inside the caller's transaction, so
// it commits or rolls back with the business data.
func (repo *Repository) CreateWithTx(ctx context.Context, tx outbox.Tx, event *outbox.OutboxEvent) (*outbox.OutboxEvent, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}

	return repo.create(ctx, tx, event)
}

func (repo *Repository) create(ctx context.Context, tx *sql.Tx, event *outbox.OutboxEvent) (*outbox.OutboxEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if event == nil {
		return nil, outbox.ErrOutboxEventRequired
	}

	tenantID, err := eventTenant(ctx, event)
	if err != nil {
		return nil, err
	}

	// Re-validates every field and defaults the metadata.
	validated, err := outbox.NewOutboxEventWithID(
		event.ID,
		tenantID,
		event.EventType,
		event.AggregateID,
		event.Category,
		event.Payload,
		event.Metadata,
	)
	if err != nil {
		return nil, err
	}

	ctx, span := repo.startSpan(ctx, "postgres.create_outbox_event")
	defer span.End()

	span.SetAttributes(attribute.String("outbox.event_type", validated.EventType))

	result, err := withTenantTxOrExisting(repo, ctx, tx, func(execTx *sql.Tx) (*outbox.OutboxEvent, error) {
		now := time.Now().UTC()

		createdAt := event.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		query := "INSERT INTO " + repo.table() +
			" (" + outboxColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8::outbox_event_status, $9, $10, $11, $12, $13)" +
			" RETURNING " + outboxColumns

		row := execTx.QueryRowContext(ctx, query,
			validated.ID,
			validated.EventType,
			validated.AggregateID,
			int16(validated.Category),
			validated.TenantID,
			validated.Payload,
			validated.Metadata,
			outbox.OutboxStatusPending,
			0,
			nil,
			nil,
			createdAt.UTC(),
			now,
		)

		return scanOutboxEvent(row)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to create outbox event", err)
		repo.logSanitizedError(ctx, "failed to create outbox event", err)

		return nil, fmt.Errorf("creating outbox event: %w", err)
	}

	return result, nil
}

// ListPending claims up to limit pending rows of the current tenant and moves
// them to PROCESSING. Rows locked by another dispatcher are skipped.
func (repo *Repository) ListPending(ctx context.Context, limit int) ([]*outbox.OutboxEvent, error) {
	return repo.claimPending(ctx, "postgres.list_outbox_pending", "", limit)
}

// ListPendingByType is ListPending restricted to one event type.
func (repo *Repository) ListPendingByType(ctx context.Context, eventType string, limit int) ([]*outbox.OutboxEvent, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, outbox.ErrEventTypeRequired
	}

	return repo.claimPending(ctx, "postgres.list_outbox_pending_by_type", eventType, limit)
}

func (repo *Repository) claimPending(ctx context.Context, spanName, eventType string, limit int) ([]*outbox.OutboxEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	ctx, span := repo.startSpan(ctx, spanName)
	defer span.End()

	tenantID := tenant.Current(ctx)

	result, err := withTenantTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) ([]*outbox.OutboxEvent, error) {
		events, err := repo.listPendingRows(ctx, tx, tenantID, eventType, limit)
		if err != nil {
			return nil, err
		}

		ids := collectEventIDs(events)
		if len(ids) == 0 {
			return events, nil
		}

		now := time.Now().UTC()

		if err := repo.markEventsWithStatus(ctx, tx, now, outbox.OutboxStatusProcessing, ids, tenantID, outbox.OutboxStatusPending); err != nil {
			return nil, err
		}

		applyProcessingState(events, now)

		return events, nil
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to list outbox events", err)
		repo.logSanitizedError(ctx, "failed to list outbox events", err)

		return nil, fmt.Errorf("listing pending events: %w", err)
	}

	return result, nil
}

// ListTenants returns the tenants known to the registry, main included.
func (repo *Repository) ListTenants(ctx context.Context) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	tenants, err := repo.discoverer.DiscoverTenants(ctx)
	if err != nil {
		repo.logSanitizedError(ctx, "failed to discover tenants", err)

		return nil, fmt.Errorf("listing tenants: %w", err)
	}

	return tenants, nil
}

// MarkPublished moves a PROCESSING row to PUBLISHED.
func (repo *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	if err := outbox.ValidateOutboxTransition(outbox.OutboxStatusProcessing, outbox.OutboxStatusPublished); err != nil {
		return fmt.Errorf("mark published transition: %w", err)
	}

	return repo.updateOne(ctx, "postgres.mark_outbox_published", "marking published", id,
		"SET status = $1::outbox_event_status, published_at = $2, updated_at = $3 "+
			"WHERE id = $4 AND status = $5::outbox_event_status AND tenant_id = $6",
		func(tenantID string) []any {
			return []any{outbox.OutboxStatusPublished, publishedAt.UTC(), time.Now().UTC(), id, outbox.OutboxStatusProcessing, tenantID}
		},
	)
}

// MarkFailed moves a PROCESSING row to FAILED, or to INVALID once the next
// attempt would reach maxAttempts.
func (repo *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error {
	if err := outbox.ValidateOutboxTransition(outbox.OutboxStatusProcessing, outbox.OutboxStatusFailed); err != nil {
		return fmt.Errorf("mark failed transition: %w", err)
	}

	if maxAttempts <= 0 {
		return ErrMaxAttemptsMustBePositive
	}

	errMsg = outbox.SanitizeErrorMessage(errMsg)

	return repo.updateOne(ctx, "postgres.mark_outbox_failed", "marking failed", id,
		"SET status = CASE WHEN attempts + 1 >= $1 THEN $2 ELSE $3 END::outbox_event_status, "+
			"attempts = attempts + 1, "+
			"last_error = CASE WHEN attempts + 1 >= $1 THEN $4 ELSE $5 END, "+
			"updated_at = $6 WHERE id = $7 AND status = $8::outbox_event_status AND tenant_id = $9",
		func(tenantID string) []any {
			return []any{
				maxAttempts,
				outbox.OutboxStatusInvalid,
				outbox.OutboxStatusFailed,
				exhaustedAttemptsMessage,
				errMsg,
				time.Now().UTC(),
				id,
				outbox.OutboxStatusProcessing,
				tenantID,
			}
		},
	)
}

// MarkInvalid moves a PROCESSING row to INVALID. Invalid rows are never
// retried.
func (repo *Repository) MarkInvalid(ctx context.Context, id uuid.UUID, errMsg string) error {
	if err := outbox.ValidateOutboxTransition(outbox.OutboxStatusProcessing, outbox.OutboxStatusInvalid); err != nil {
		return fmt.Errorf("mark invalid transition: %w", err)
	}

	errMsg = outbox.SanitizeErrorMessage(errMsg)

	return repo.updateOne(ctx, "postgres.mark_outbox_invalid", "marking invalid", id,
		"SET status = $1::outbox_event_status, last_error = $2, updated_at = $3 "+
			"WHERE id = $4 AND status = $5::outbox_event_status AND tenant_id = $6",
		func(tenantID string) []any {
			return []any{outbox.OutboxStatusInvalid, errMsg, time.Now().UTC(), id, outbox.OutboxStatusProcessing, tenantID}
		},
	)
}

func (repo *Repository) updateOne(
	ctx context.Context,
	spanName, action string,
	id uuid.UUID,
	setClause string,
	args func(tenantID string) []any,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return ErrRepositoryNotInitialized
	}

	if id == uuid.Nil {
		return ErrIDRequired
	}

	query := "UPDATE " + repo.table() + " " + setClause

	ctx, span := repo.startSpan(ctx, spanName)
	defer span.End()

	tenantID := tenant.Current(ctx)

	_, err := withTenantTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (struct{}, error) {
		result, execErr := tx.ExecContext(ctx, query, args(tenantID)...)
		if execErr != nil {
			return struct{}{}, fmt.Errorf("executing update: %w", execErr)
		}

		return struct{}{}, ensureRowsAffected(result)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed "+action, err)
		repo.logSanitizedError(ctx, "failed "+action, err)

		return fmt.Errorf("%s: %w", action, err)
	}

	return nil
}

// ResetForRetry claims FAILED rows last touched before failedBefore that
// still have attempts left, moving them to PROCESSING.
func (repo *Repository) ResetForRetry(
	ctx context.Context,
	limit int,
	failedBefore time.Time,
	maxAttempts int,
) ([]*outbox.OutboxEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	if maxAttempts <= 0 {
		return nil, ErrMaxAttemptsMustBePositive
	}

	ctx, span := repo.startSpan(ctx, "postgres.reset_for_retry")
	defer span.End()

	tenantID := tenant.Current(ctx)

	result, err := withTenantTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) ([]*outbox.OutboxEvent, error) {
		query := "SELECT " + outboxColumns + " FROM " + repo.table() +
			" WHERE status = $1::outbox_event_status AND attempts < $2 AND updated_at <= $3 AND tenant_id = $4" +
			" ORDER BY updated_at ASC LIMIT $5 FOR UPDATE SKIP LOCKED"

		events, err := queryOutboxEvents(ctx, tx, query,
			[]any{outbox.OutboxStatusFailed, maxAttempts, failedBefore.UTC(), tenantID, limit},
			limit, "querying failed events for retry")
		if err != nil {
			return nil, err
		}

		ids := collectEventIDs(events)
		if len(ids) == 0 {
			return events, nil
		}

		now := time.Now().UTC()

		if err := repo.markEventsWithStatus(ctx, tx, now, outbox.OutboxStatusProcessing, ids, tenantID, outbox.OutboxStatusFailed); err != nil {
			return nil, err
		}

		applyProcessingState(events, now)

		return events, nil
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to reset events for retry", err)
		repo.logSanitizedError(ctx, "failed to reset events for retry", err)

		return nil, fmt.Errorf("resetting events for retry: %w", err)
	}

	return result, nil
}

// ResetStuckProcessing reclaims rows left in PROCESSING since before
// processingBefore, typically by a crashed dispatcher. Rows out of attempts
// become INVALID; the rest stay PROCESSING with one more attempt recorded.
func (repo *Repository) ResetStuckProcessing(
	ctx context.Context,
	limit int,
	processingBefore time.Time,
	maxAttempts int,
) ([]*outbox.OutboxEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	if maxAttempts <= 0 {
		return nil, ErrMaxAttemptsMustBePositive
	}

	ctx, span := repo.startSpan(ctx, "postgres.reset_outbox_processing")
	defer span.End()

	tenantID := tenant.Current(ctx)

	result, err := withTenantTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) ([]*outbox.OutboxEvent, error) {
		query := "SELECT " + outboxColumns + " FROM " + repo.table() +
			" WHERE status = $1::outbox_event_status AND updated_at <= $2 AND tenant_id = $3" +
			" ORDER BY updated_at ASC LIMIT $4 FOR UPDATE SKIP LOCKED"

		events, err := queryOutboxEvents(ctx, tx, query,
			[]any{outbox.OutboxStatusProcessing, processingBefore.UTC(), tenantID, limit},
			limit, "querying stuck events")
		if err != nil {
			return nil, err
		}

		if len(events) == 0 {
			return events, nil
		}

		retryEvents, exhaustedIDs := splitStuckEvents(events, maxAttempts)
		now := time.Now().UTC()

		// Retried rows stay PROCESSING so no other dispatcher claims them
		// between this commit and the publish.
		if retryIDs := collectEventIDs(retryEvents); len(retryIDs) > 0 {
			update := "UPDATE " + repo.table() +
				" SET attempts = attempts + 1, updated_at = $1 " +
				"WHERE id = ANY($2::uuid[]) AND status = $3::outbox_event_status AND tenant_id = $4"

			if err := execExact(ctx, tx, update, int64(len(retryIDs)), now, retryIDs, outbox.OutboxStatusProcessing, tenantID); err != nil {
				return nil, fmt.Errorf("updating stuck events to processing: %w", err)
			}

			applyStuckReprocessingState(retryEvents, now)
		}

		if len(exhaustedIDs) > 0 {
			update := "UPDATE " + repo.table() +
				" SET status = $1::outbox_event_status, attempts = attempts + 1, last_error = $2, updated_at = $3 " +
				"WHERE id = ANY($4::uuid[]) AND status = $5::outbox_event_status AND tenant_id = $6"

			if err := execExact(ctx, tx, update, int64(len(exhaustedIDs)),
				outbox.OutboxStatusInvalid, exhaustedAttemptsMessage, now, exhaustedIDs, outbox.OutboxStatusProcessing, tenantID,
			); err != nil {
				return nil, fmt.Errorf("updating stuck events to invalid: %w", err)
			}
		}

		return retryEvents, nil
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to reset stuck events", err)
		repo.logSanitizedError(ctx, "failed to reset stuck events", err)

		return nil, fmt.Errorf("reset stuck events: %w", err)
	}

	return result, nil
}

func (repo *Repository) listPendingRows(
	ctx context.Context,
	tx *sql.Tx,
	tenantID string,
	eventType string,
	limit int,
) ([]*outbox.OutboxEvent, error) {
	query := "SELECT " + outboxColumns + " FROM " + repo.table() +
		" WHERE status = $1::outbox_event_status AND tenant_id = $2"
	args := []any{outbox.OutboxStatusPending, tenantID}

	if eventType != "" {
		query += " AND event_type = $3"

		args = append(args, eventType)
	}

	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d FOR UPDATE SKIP LOCKED", len(args)+1)
	args = append(args, limit)

	return queryOutboxEvents(ctx, tx, query, args, limit, "querying pending events")
}

func (repo *Repository) markEventsWithStatus(
	ctx context.Context,
	tx *sql.Tx,
	now time.Time,
	status string,
	ids []uuid.UUID,
	tenantID string,
	fromStatus string,
) error {
	if err := outbox.ValidateOutboxTransition(fromStatus, status); err != nil {
		return fmt.Errorf("status transition: %w", err)
	}

	query := "UPDATE " + repo.table() +
		" SET status = $1::outbox_event_status, updated_at = $2 " +
		"WHERE id = ANY($3::uuid[]) AND status = $4::outbox_event_status AND tenant_id = $5"

	if err := execExact(ctx, tx, query, int64(len(ids)), status, now, ids, fromStatus, tenantID); err != nil {
		return fmt.Errorf("updating status to %s: %w", status, err)
	}

	return nil
}

func (repo *Repository) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	_, tracer, _ := buildingblocks.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("tenant.id_hash", outbox.HashTenantID(tenant.Current(ctx))))

	return ctx, span
}

func (repo *Repository) table() string {
	return quoteIdentifierPath(repo.tableName)
}

func (repo *Repository) initialized() bool {
	return repo != nil && !nilcheck.Interface(repo.stores) && !nilcheck.Interface(repo.discoverer)
}

// beginTenantTx opens a transaction on the store of the current tenant.
func (repo *Repository) beginTenantTx(ctx context.Context) (*sql.Tx, error) {
	store, err := repo.stores.Resolve(ctx, tenant.Current(ctx))
	if err != nil {
		return nil, fmt.Errorf("resolve tenant store: %w", err)
	}

	tx, err := store.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return tx, nil
}

func withTenantTxOrExisting[T any](
	repo *Repository,
	ctx context.Context,
	tx *sql.Tx,
	fn func(*sql.Tx) (T, error),
) (T, error) {
	var zero T

	if tx != nil {
		return fn(tx)
	}

	txCtx := ctx

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc

		txCtx, cancel = context.WithTimeout(ctx, repo.transactionTimeout)
		defer cancel()
	}

	newTx, err := repo.beginTenantTx(txCtx)
	if err != nil {
		return zero, err
	}

	defer func() {
		_ = newTx.Rollback()
	}()

	result, err := fn(newTx)
	if err != nil {
		return zero, err
	}

	if err := newTx.Commit(); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// eventTenant fills an empty tenant on the row from ctx and rejects rows
// stamped for a different tenant.
func eventTenant(ctx context.Context, event *outbox.OutboxEvent) (string, error) {
	current := tenant.Current(ctx)

	tenantID := strings.TrimSpace(event.TenantID)
	if tenantID == "" {
		return current, nil
	}

	if tenantID != current {
		return "", fmt.Errorf("%w: event %q, context %q", ErrTenantMismatch, tenantID, current)
	}

	return tenantID, nil
}

func splitStuckEvents(events []*outbox.OutboxEvent, maxAttempts int) ([]*outbox.OutboxEvent, []uuid.UUID) {
	retryEvents := make([]*outbox.OutboxEvent, 0, len(events))
	exhaustedIDs := make([]uuid.UUID, 0)

	for _, event := range events {
		if event == nil || event.ID == uuid.Nil {
			continue
		}

		if event.Attempts+1 >= maxAttempts {
			exhaustedIDs = append(exhaustedIDs, event.ID)

			continue
		}

		retryEvents = append(retryEvents, event)
	}

	return retryEvents, exhaustedIDs
}

func applyStuckReprocessingState(events []*outbox.OutboxEvent, now time.Time) {
	for _, event := range events {
		if event == nil {
			continue
		}

		event.Attempts++
		event.Status = outbox.OutboxStatusProcessing
		event.UpdatedAt = now
	}
}

func applyProcessingState(events []*outbox.OutboxEvent, now time.Time) {
	for _, event := range events {
		if event == nil {
			continue
		}

		event.Status = outbox.OutboxStatusProcessing
		event.UpdatedAt = now
	}
}

func collectEventIDs(events []*outbox.OutboxEvent) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(events))

	for _, event := range events {
		if event == nil || event.ID == uuid.Nil {
			continue
		}

		ids = append(ids, event.ID)
	}

	return ids
}

func queryOutboxEvents(
	ctx context.Context,
	tx *sql.Tx,
	query string,
	args []any,
	limit int,
	action string,
) ([]*outbox.OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer rows.Close()

	events := make([]*outbox.OutboxEvent, 0, limit)

	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return events, nil
}

func scanOutboxEvent(scanner interface{ Scan(dest ...any) error }) (*outbox.OutboxEvent, error) {
	var (
		event     outbox.OutboxEvent
		category  int16
		lastError sql.NullString
		published sql.NullTime
	)

	if err := scanner.Scan(
		&event.ID,
		&event.EventType,
		&event.AggregateID,
		&category,
		&event.TenantID,
		&event.Payload,
		&event.Metadata,
		&event.Status,
		&event.Attempts,
		&published,
		&lastError,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning outbox event: %w", err)
	}

	event.Category = eventCategory(category)

	if published.Valid {
		publishedAt := published.Time
		event.PublishedAt = &publishedAt
	}

	if lastError.Valid {
		event.LastError = lastError.String
	}

	return &event, nil
}

func execExact(ctx context.Context, tx *sql.Tx, query string, expected int64, args ...any) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}

	if affected != expected {
		return fmt.Errorf("%w: expected %d rows, updated %d", ErrStateTransitionConflict, expected, affected)
	}

	return nil
}

func ensureRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}

	if affected == 0 {
		return ErrStateTransitionConflict
	}

	return nil
}

func (repo *Repository) logSanitizedError(ctx context.Context, message string, err error) {
	if repo == nil || nilcheck.Interface(repo.logger) || err == nil {
		return
	}

	repo.logger.Log(ctx, log.LevelError, message,
		log.String("tenant", tenant.Current(ctx)),
		log.String("error", outbox.SanitizeErrorMessage(err.Error())),
	)
}

func validateIdentifier(identifier string) error {
	if len(identifier) > maxSQLIdentifierLength {
		return ErrInvalidIdentifier
	}

	if !identifierPattern.MatchString(identifier) {
		return ErrInvalidIdentifier
	}

	return nil
}

func validateIdentifierPath(path string) error {
	for _, part := range strings.Split(path, ".") {
		if err := validateIdentifier(strings.TrimSpace(part)); err != nil {
			return err
		}
	}

	return nil
}

func quoteIdentifierPath(path string) string {
	parts := strings.Split(path, ".")
	quoted := make([]string, 0, len(parts))

	for _, part := range parts {
		quoted = append(quoted, quoteIdentifier(strings.TrimSpace(part)))
	}

	return strings.Join(quoted, ".")
}

func quoteIdentifier(identifier string) string {
	identifier = strings.ReplaceAll(identifier, "\x00", "")

	return "\"" + strings.ReplaceAll(identifier, "\"", "\"\"") + "\""
}

func eventCategory(raw int16) event.Category {
	category := event.Category(raw)
	if !category.Valid() {
		return event.Integration
	}

	return category
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	goredislib "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/backoff"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/lock"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
)

const defaultKeyPrefix = "lock:"

var (
	// ErrNilClient is returned when the guard is built without a client.
	ErrNilClient = errors.New("redis client is nil")
	// ErrGuardNotInitialized is returned by a zero-value or nil Guard.
	ErrGuardNotInitialized = errors.New("redis guard is not initialized")
)

// Option configures a Guard.
type Option func(*Guard)

// WithOwnerInstanceID stamps tickets with the id of this process.
func WithOwnerInstanceID(id string) Option {
	return func(g *Guard) {
		if id = strings.TrimSpace(id); id != "" {
			g.instanceID = id
		}
	}
}

// WithKeyPrefix sets the prefix of the Redis keys, "lock:" by default.
func WithKeyPrefix(prefix string) Option {
	return func(g *Guard) {
		g.keyPrefix = prefix
	}
}

// WithRetryPolicy paces Acquire between attempts.
func WithRetryPolicy(policy backoff.Policy) Option {
	return func(g *Guard) {
		if policy.Base > 0 {
			g.policy = policy
		}
	}
}

// WithLogger sets the logger used when a context carries none.
func WithLogger(logger log.Logger) Option {
	return func(g *Guard) {
		if !nilcheck.Interface(logger) {
			g.logger = logger
		}
	}
}

// Guard is a lock.ResourceGuard backed by Redis.
//
// Thread-safe: a single Guard may serve every handler of the process.
type Guard struct {
	redsync    *redsync.Redsync
	instanceID string
	keyPrefix  string
	policy     backoff.Policy
	logger     log.Logger
}

var _ lock.ResourceGuard = (*Guard)(nil)

// NewGuard creates a guard over client, a single-node RedLock pool.
func NewGuard(client goredislib.UniversalClient, opts ...Option) (*Guard, error) {
	if nilcheck.Interface(client) {
		return nil, ErrNilClient
	}

	g := &Guard{
		redsync:    redsync.New(goredis.NewPool(client)),
		instanceID: uuid.NewString(),
		keyPrefix:  defaultKeyPrefix,
		policy:     lock.DefaultRetryPolicy,
		logger:     log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g, nil
}

// TryAcquire makes a single SET NX attempt.
func (g *Guard) TryAcquire(ctx context.Context, resourceName, key string, ttl time.Duration) (*lock.Ticket, error) {
	if g == nil || g.redsync == nil {
		return nil, ErrGuardNotInitialized
	}

	if err := lock.ValidateName(resourceName, key); err != nil {
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	ttl = lock.NormalizeTTL(ttl)
	name := g.mutexName(resourceName, key)
	safeName := safeLockKeyForLogs(name)
	logger := g.loggerFrom(ctx)

	_, tracer, _ := buildingblocks.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.lock.try_acquire")
	defer span.End()

	span.SetAttributes(attribute.String("lock.resource", resourceName))

	mutex := g.redsync.NewMutex(name, redsync.WithExpiry(ttl), redsync.WithTries(1))

	acquiredAt := time.Now()

	if err := mutex.TryLockContext(ctx); err != nil {
		if isContention(err) {
			logger.Log(ctx, log.LevelDebug, "lock held by another owner", log.String("lock_key", safeName))

			return nil, nil
		}

		opentelemetry.HandleSpanError(&span, "failed to attempt lock acquisition", err)
		logger.Log(ctx, log.LevelWarn, "could not attempt lock", log.String("lock_key", safeName), log.Err(err))

		return nil, fmt.Errorf("attempt lock %s: %w", safeName, err)
	}

	logger.Log(ctx, log.LevelDebug, "lock acquired", log.String("lock_key", safeName))

	return &lock.Ticket{
		ResourceName:    resourceName,
		Key:             key,
		Token:           mutex.Value(),
		OwnerInstanceID: g.instanceID,
		AcquiredAt:      acquiredAt,
		Expiry:          mutex.Until(),
	}, nil
}

// Acquire retries TryAcquire with jittered backoff until it wins or ctx is
// done.
func (g *Guard) Acquire(ctx context.Context, resourceName, key string, ttl time.Duration) (*lock.Ticket, error) {
	if g == nil || g.redsync == nil {
		return nil, ErrGuardNotInitialized
	}

	return lock.AcquireWithRetry(ctx, g, resourceName, key, ttl, g.policy)
}

// Release deletes the key when it still carries the ticket's token. An
// expired or already released ticket is not an error.
func (g *Guard) Release(ctx context.Context, ticket *lock.Ticket) error {
	if g == nil || g.redsync == nil {
		return ErrGuardNotInitialized
	}

	if ticket == nil {
		return lock.ErrTicketRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	name := g.mutexName(ticket.ResourceName, ticket.Key)
	safeName := safeLockKeyForLogs(name)
	logger := g.loggerFrom(ctx)

	mutex := g.redsync.NewMutex(name, redsync.WithValue(ticket.Token))

	ok, err := mutex.UnlockContext(ctx)
	if err != nil && !isNotHeld(err) {
		logger.Log(ctx, log.LevelWarn, "failed to release lock", log.String("lock_key", safeName), log.Err(err))

		return fmt.Errorf("release lock %s: %w", safeName, err)
	}

	if !ok {
		logger.Log(ctx, log.LevelDebug, "lock already released or expired", log.String("lock_key", safeName))
	}

	return nil
}

func (g *Guard) mutexName(resourceName, key string) string {
	return g.keyPrefix + resourceName + ":" + key
}

func (g *Guard) loggerFrom(ctx context.Context) log.Logger {
	logger, _, _ := buildingblocks.NewTrackingFromContext(ctx)
	if _, isNop := logger.(*log.NopLogger); isNop && g.logger != nil {
		return g.logger
	}

	return logger
}

func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}

func isNotHeld(err error) bool {
	if errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "already expired") || strings.Contains(msg, "already taken")
}

func safeLockKeyForLogs(lockKey string) string {
	const maxLockKeyLogLength = 128

	safeLockKey := strconv.QuoteToASCII(lockKey)
	if len(safeLockKey) <= maxLockKeyLogLength {
		return safeLockKey
	}

	return safeLockKey[:maxLockKeyLogLength] + "...(truncated)"
}

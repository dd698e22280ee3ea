package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/backoff"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
)

// DefaultTTL is the lease used when a caller passes a non-positive ttl.
const DefaultTTL = time.Minute

var (
	// ErrResourceBusy reports that another worker holds the resource. It is
	// retryable: the caller should give the message back and try later.
	ErrResourceBusy = errors.New("resource is being processed elsewhere")
	// ErrResourceNameRequired is returned for a blank resource name.
	ErrResourceNameRequired = errors.New("lock resource name is required")
	// ErrKeyRequired is returned for a blank lock key.
	ErrKeyRequired = errors.New("lock key is required")
	// ErrTicketRequired is returned when Release gets a nil ticket.
	ErrTicketRequired = errors.New("lock ticket is required")
	// ErrGuardRequired is returned when a nil guard is used.
	ErrGuardRequired = errors.New("resource guard is required")
)

// Ticket is the proof of holding one (ResourceName, Key) lease. It belongs to
// the caller that acquired it until released or expired.
type Ticket struct {
	ResourceName    string
	Key             string
	Token           string
	OwnerInstanceID string
	AcquiredAt      time.Time
	Expiry          time.Time
}

// Expired reports whether the lease ended before now.
func (t *Ticket) Expired(now time.Time) bool {
	return t == nil || !now.Before(t.Expiry)
}

// ResourceGuard hands out exclusive tickets.
type ResourceGuard interface {
	// TryAcquire makes one attempt. Contention returns (nil, nil).
	TryAcquire(ctx context.Context, resourceName, key string, ttl time.Duration) (*Ticket, error)
	// Acquire retries until the ticket is granted or ctx is done.
	Acquire(ctx context.Context, resourceName, key string, ttl time.Duration) (*Ticket, error)
	// Release gives the ticket back. Releasing twice, or after expiry, is
	// not an error.
	Release(ctx context.Context, ticket *Ticket) error
}

// TryAcquirer is the single-attempt half of ResourceGuard.
type TryAcquirer interface {
	TryAcquire(ctx context.Context, resourceName, key string, ttl time.Duration) (*Ticket, error)
}

// Key names the lock guarding one handler for one event.
func Key(handlerName, eventID string) string {
	return handlerName + "_" + eventID
}

// IsRetryable reports whether err means the work should be retried later
// rather than dead-lettered.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrResourceBusy)
}

// NormalizeTTL maps a non-positive ttl to DefaultTTL.
func NormalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}

	return ttl
}

// ValidateName checks the resource name and key of a request.
func ValidateName(resourceName, key string) error {
	if strings.TrimSpace(resourceName) == "" {
		return ErrResourceNameRequired
	}

	if strings.TrimSpace(key) == "" {
		return ErrKeyRequired
	}

	return nil
}

// DefaultRetryPolicy paces Acquire between attempts.
var DefaultRetryPolicy = backoff.Policy{Base: 50 * time.Millisecond, Max: 2 * time.Second}

// AcquireWithRetry calls guard.TryAcquire until it yields a ticket, an error
// other than contention, or ctx is done. A done ctx is reported wrapped in
// ErrResourceBusy, so callers that only check IsRetryable requeue the work.
func AcquireWithRetry(
	ctx context.Context,
	guard TryAcquirer,
	resourceName, key string,
	ttl time.Duration,
	policy backoff.Policy,
) (*Ticket, error) {
	if nilcheck.Interface(guard) {
		return nil, ErrGuardRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if policy.Base <= 0 {
		policy = DefaultRetryPolicy
	}

	for attempt := 0; ; attempt++ {
		ticket, err := guard.TryAcquire(ctx, resourceName, key, ttl)
		if err != nil {
			return nil, err
		}

		if ticket != nil {
			return ticket, nil
		}

		if err := backoff.WaitContext(ctx, policy.Next(attempt)); err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %w", ErrResourceBusy, resourceName, key, err)
		}
	}
}

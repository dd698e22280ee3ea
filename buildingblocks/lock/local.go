package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/backoff"
)

type localLease struct {
	token  string
	expiry time.Time
}

// LocalGuard is an in-process ResourceGuard. Leases expire on their ttl like
// the Redis guard's keys do.
type LocalGuard struct {
	instanceID string
	policy     backoff.Policy
	now        func() time.Time

	mu     sync.Mutex
	leases map[string]localLease
}

var _ ResourceGuard = (*LocalGuard)(nil)

// NewLocalGuard creates a guard owned by instanceID. A blank id gets a
// random one.
func NewLocalGuard(instanceID string) *LocalGuard {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	return &LocalGuard{
		instanceID: instanceID,
		policy:     DefaultRetryPolicy,
		now:        time.Now,
		leases:     make(map[string]localLease),
	}
}

func (g *LocalGuard) TryAcquire(ctx context.Context, resourceName, key string, ttl time.Duration) (*Ticket, error) {
	if g == nil {
		return nil, ErrGuardRequired
	}

	if err := ValidateName(resourceName, key); err != nil {
		return nil, err
	}

	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	ttl = NormalizeTTL(ttl)
	name := resourceName + ":" + key

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.leases == nil {
		g.leases = make(map[string]localLease)
	}

	now := g.now()

	if lease, held := g.leases[name]; held && now.Before(lease.expiry) {
		return nil, nil
	}

	ticket := &Ticket{
		ResourceName:    resourceName,
		Key:             key,
		Token:           uuid.NewString(),
		OwnerInstanceID: g.instanceID,
		AcquiredAt:      now,
		Expiry:          now.Add(ttl),
	}

	g.leases[name] = localLease{token: ticket.Token, expiry: ticket.Expiry}

	return ticket, nil
}

func (g *LocalGuard) Acquire(ctx context.Context, resourceName, key string, ttl time.Duration) (*Ticket, error) {
	if g == nil {
		return nil, ErrGuardRequired
	}

	return AcquireWithRetry(ctx, g, resourceName, key, ttl, g.policy)
}

// Release drops the lease when ticket still owns it.
func (g *LocalGuard) Release(_ context.Context, ticket *Ticket) error {
	if g == nil {
		return ErrGuardRequired
	}

	if ticket == nil {
		return ErrTicketRequired
	}

	name := ticket.ResourceName + ":" + ticket.Key

	g.mu.Lock()
	defer g.mu.Unlock()

	if lease, held := g.leases[name]; held && lease.token == ticket.Token {
		delete(g.leases, name)
	}

	return nil
}

package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/backoff"
)

func newFastLocalGuard() *LocalGuard {
	g := NewLocalGuard("worker-1")
	g.policy = backoff.Policy{Base: time.Millisecond, Max: 5 * time.Millisecond}

	return g
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SendInvoiceHandler_evt-1", Key("SendInvoiceHandler", "evt-1"))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(ErrResourceBusy))
	assert.True(t, IsRetryable(errors.Join(errors.New("x"), ErrResourceBusy)))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(nil))
}

func TestNormalizeTTL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultTTL, NormalizeTTL(0))
	assert.Equal(t, DefaultTTL, NormalizeTTL(-time.Second))
	assert.Equal(t, 5*time.Second, NormalizeTTL(5*time.Second))
}

func TestLocalGuard_TryAcquireContendRelease(t *testing.T) {
	t.Parallel()

	g := newFastLocalGuard()
	ctx := context.Background()

	first, err := g.TryAcquire(ctx, "Handler", "evt-1", 0)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "worker-1", first.OwnerInstanceID)
	assert.Equal(t, DefaultTTL, first.Expiry.Sub(first.AcquiredAt))

	second, err := g.TryAcquire(ctx, "Handler", "evt-1", 0)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, g.Release(ctx, first))
	require.NoError(t, g.Release(ctx, first))

	third, err := g.TryAcquire(ctx, "Handler", "evt-1", 0)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.NotEqual(t, first.Token, third.Token)
}

func TestLocalGuard_StaleReleaseKeepsNewOwner(t *testing.T) {
	t.Parallel()

	g := newFastLocalGuard()
	ctx := context.Background()

	stale, err := g.TryAcquire(ctx, "Handler", "evt-2", 10*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return stale.Expired(time.Now())
	}, time.Second, 5*time.Millisecond)

	owner, err := g.TryAcquire(ctx, "Handler", "evt-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, owner)

	require.NoError(t, g.Release(ctx, stale))

	blocked, err := g.TryAcquire(ctx, "Handler", "evt-2", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, blocked)
}

func TestLocalGuard_ConcurrentTryAcquireSingleWinner(t *testing.T) {
	t.Parallel()

	g := newFastLocalGuard()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ticket, err := g.TryAcquire(context.Background(), "Handler", "evt-3", time.Minute)
			if err == nil && ticket != nil {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestLocalGuard_AcquireWaitsForRelease(t *testing.T) {
	t.Parallel()

	g := newFastLocalGuard()
	ctx := context.Background()

	held, err := g.Acquire(ctx, "Handler", "evt-4", time.Minute)
	require.NoError(t, err)

	acquired := make(chan *Ticket, 1)

	go func() {
		ticket, acquireErr := g.Acquire(ctx, "Handler", "evt-4", time.Minute)
		if acquireErr == nil {
			acquired <- ticket
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire must wait for the release")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, g.Release(ctx, held))

	select {
	case ticket := <-acquired:
		require.NotNil(t, ticket)
	case <-time.After(time.Second):
		t.Fatal("second Acquire never succeeded")
	}
}

func TestLocalGuard_AcquireHonoursContext(t *testing.T) {
	t.Parallel()

	g := newFastLocalGuard()

	_, err := g.TryAcquire(context.Background(), "Handler", "evt-5", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.Acquire(ctx, "Handler", "evt-5", time.Minute)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalGuard_Validation(t *testing.T) {
	t.Parallel()

	g := newFastLocalGuard()

	_, err := g.TryAcquire(context.Background(), " ", "evt", 0)
	require.ErrorIs(t, err, ErrResourceNameRequired)

	_, err = g.TryAcquire(context.Background(), "Handler", "", 0)
	require.ErrorIs(t, err, ErrKeyRequired)

	require.ErrorIs(t, g.Release(context.Background(), nil), ErrTicketRequired)

	var nilGuard *LocalGuard

	_, err = nilGuard.Acquire(context.Background(), "Handler", "evt", 0)
	require.ErrorIs(t, err, ErrGuardRequired)

	_, err = AcquireWithRetry(context.Background(), nil, "Handler", "evt", 0, backoff.Policy{})
	require.ErrorIs(t, err, ErrGuardRequired)
}

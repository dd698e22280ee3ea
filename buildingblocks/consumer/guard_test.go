package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/lock"
)

type failingGuard struct {
	lock.ResourceGuard
	err error
}

func (g failingGuard) TryAcquire(context.Context, string, string, time.Duration) (*lock.Ticket, error) {
	return nil, g.err
}

func TestGuard_SkipsWhileAnotherWorkerHoldsTheEvent(t *testing.T) {
	t.Parallel()

	guard := lock.NewLocalGuard("worker-1")
	ctx := context.Background()

	held, err := guard.TryAcquire(ctx, DefaultGuardResource, lock.Key("SendInvoice", "evt-1"), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	r := NewRouter()
	calls := 0

	require.NoError(t, r.Register("invoice.issued", "SendInvoice", func(context.Context, *Message) error {
		calls++

		return nil
	}, Guard(guard)))

	err = r.Dispatch(ctx, &Message{ID: "evt-1", Name: "invoice.issued"})
	require.Error(t, err)
	assert.True(t, lock.IsRetryable(err))
	assert.Zero(t, calls)

	require.NoError(t, guard.Release(ctx, held))

	require.NoError(t, r.Dispatch(ctx, &Message{ID: "evt-1", Name: "invoice.issued"}))
	assert.Equal(t, 1, calls)

	// The guard released its own ticket after the handler returned.
	again, err := guard.TryAcquire(ctx, DefaultGuardResource, lock.Key("SendInvoice", "evt-1"), time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestGuard_KeyIsPerHandler(t *testing.T) {
	t.Parallel()

	guard := lock.NewLocalGuard("worker-1")
	ctx := context.Background()

	_, err := guard.TryAcquire(ctx, "handlers", lock.Key("SendInvoice", "evt-2"), time.Minute)
	require.NoError(t, err)

	r := NewRouter()
	r.Use(Guard(guard, GuardResource("handlers"), GuardTTL(time.Second)))

	ran := false

	require.NoError(t, r.Register("invoice.issued", "UpdateLedger", func(context.Context, *Message) error {
		ran = true

		return nil
	}))

	require.NoError(t, r.Dispatch(ctx, &Message{ID: "evt-2", Name: "invoice.issued"}))
	assert.True(t, ran)
}

func TestGuard_WaitModeBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	guard := lock.NewLocalGuard("worker-1")
	ctx := context.Background()

	held, err := guard.TryAcquire(ctx, DefaultGuardResource, lock.Key("h", "evt-3"), time.Minute)
	require.NoError(t, err)

	handler := Guard(guard, GuardWait())(func(context.Context, *Message) error { return nil })

	done := make(chan error, 1)

	go func() {
		done <- handler(ContextWithHandlerName(ctx, "h"), &Message{ID: "evt-3"})
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, guard.Release(ctx, held))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting guard never ran the handler")
	}
}

func TestGuard_AcquireErrorsPropagate(t *testing.T) {
	t.Parallel()

	boom := errors.New("redis down")
	handler := Guard(failingGuard{err: boom})(func(context.Context, *Message) error { return nil })

	err := handler(context.Background(), &Message{ID: "evt-4"})
	require.ErrorIs(t, err, boom)
	assert.False(t, lock.IsRetryable(err))

	require.ErrorIs(t, Guard(nil)(func(context.Context, *Message) error { return nil })(context.Background(), &Message{}), lock.ErrGuardRequired)
}

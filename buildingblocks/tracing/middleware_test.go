package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/consumer"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/lock"
)

func newTracedRouter(t *testing.T) (*consumer.Router, *Queue, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	q, err := NewQueue(store)
	require.NoError(t, err)

	startQueue(t, q)

	router := consumer.NewRouter()
	router.Use(Middleware(q, WithPayload(8)))

	return router, q, store
}

func flush(t *testing.T, q *Queue) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, q.Flush(ctx))
}

func TestMiddleware_RecordsSuccessAndFailure(t *testing.T) {
	t.Parallel()

	router, q, store := newTracedRouter(t)
	errShipping := errors.New("carrier rejected parcel")

	require.NoError(t, router.Register("order.paid", "billing", func(context.Context, *consumer.Message) error { return nil }))
	require.NoError(t, router.Register("order.paid", "shipping", func(context.Context, *consumer.Message) error { return errShipping }))

	msg := &consumer.Message{
		ID:       "evt-1",
		Name:     "order.paid",
		TenantID: "acme",
		Category: event.Integration,
		Payload:  []byte(`{"order_id":"order-42"}`),
		Headers:  map[string]any{HeaderTraceID: "trace-1", HeaderParentID: "publisher"},
	}

	require.ErrorIs(t, router.Dispatch(context.Background(), msg), errShipping)
	flush(t, q)

	page, err := store.GetPage(context.Background(), Filter{TraceID: "trace-1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	byHandler := map[string]Record{}
	for _, rec := range page.Items {
		byHandler[rec.HandlerName] = rec
	}

	billing := byHandler["billing"]
	assert.Equal(t, StatusSuccess, billing.Status)
	assert.Equal(t, "publisher", billing.ParentID)
	assert.Equal(t, "acme", billing.TenantID)
	assert.Equal(t, "order.paid", billing.EventName)
	require.NotNil(t, billing.EventCategory)
	assert.Equal(t, event.Integration, *billing.EventCategory)
	assert.Equal(t, `{"order_`, billing.Payload)
	require.NotNil(t, billing.BeginAt)
	require.NotNil(t, billing.EndAt)
	assert.GreaterOrEqual(t, billing.Duration(), time.Duration(0))

	shipping := byHandler["shipping"]
	assert.Equal(t, StatusFail, shipping.Status)
	assert.Equal(t, "carrier rejected parcel", shipping.ExceptionInfo)
}

func TestMiddleware_PanicIsRecordedAsFail(t *testing.T) {
	t.Parallel()

	router, q, store := newTracedRouter(t)

	require.NoError(t, router.Register("order.paid", "audit", func(context.Context, *consumer.Message) error {
		panic("nil map")
	}))

	err := router.Dispatch(context.Background(), &consumer.Message{Name: "order.paid", Headers: map[string]any{HeaderTraceID: "trace-p"}})
	require.ErrorIs(t, err, consumer.ErrHandlerPanicked)

	flush(t, q)

	page, err := store.GetPage(context.Background(), Filter{TraceID: "trace-p"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, StatusFail, page.Items[0].Status)
	assert.Contains(t, page.Items[0].ExceptionInfo, "nil map")
}

func TestMiddleware_BusySkipIsNotExecuted(t *testing.T) {
	t.Parallel()

	router, q, store := newTracedRouter(t)

	require.NoError(t, router.Register("order.paid", "shipping", func(context.Context, *consumer.Message) error {
		return fmt.Errorf("%w: shipping/evt-9", lock.ErrResourceBusy)
	}))

	err := router.Dispatch(context.Background(), &consumer.Message{ID: "evt-9", Name: "order.paid", Headers: map[string]any{HeaderTraceID: "trace-b"}})
	require.True(t, lock.IsRetryable(err))

	flush(t, q)

	page, err := store.GetPage(context.Background(), Filter{TraceID: "trace-b"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, StatusNotExecuted, page.Items[0].Status)
	assert.Contains(t, page.Items[0].ExceptionInfo, "shipping/evt-9")
}

func TestMiddleware_PayloadIsCutOnRuneBoundary(t *testing.T) {
	t.Parallel()

	router, q, store := newTracedRouter(t)

	require.NoError(t, router.Register("order.paid", "audit", func(context.Context, *consumer.Message) error { return nil }))

	// "ação" is 6 bytes; the 8 byte limit lands inside "ç"
	msg := &consumer.Message{Name: "order.paid", Payload: []byte(`{"a":"ação"}`), Headers: map[string]any{HeaderTraceID: "trace-u"}}
	require.NoError(t, router.Dispatch(context.Background(), msg))

	flush(t, q)

	page, err := store.GetPage(context.Background(), Filter{TraceID: "trace-u"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, `{"a":"a`, page.Items[0].Payload)
	assert.True(t, utf8.ValidString(page.Items[0].Payload))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab", truncate("abç", 3))
	assert.Equal(t, "abç", truncate("abçd", 4))
	assert.Empty(t, truncate("ç", 1))
	assert.Empty(t, truncate("abc", -1))
}

func TestMiddleware_NestedHandlersFormATree(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	q, err := NewQueue(store)
	require.NoError(t, err)

	startQueue(t, q)

	traced := Middleware(q)

	inner := traced(func(context.Context, *consumer.Message) error { return nil })
	outer := traced(func(ctx context.Context, _ *consumer.Message) error {
		headers := InjectHeaders(ctx, nil)
		assert.NotEmpty(t, headers[HeaderParentID])

		return inner(context.Background(), &consumer.Message{Name: "stock.reserved", Headers: headers})
	})

	require.NoError(t, outer(context.Background(), &consumer.Message{Name: "order.placed", Headers: map[string]any{HeaderTraceID: "trace-n"}}))
	flush(t, q)

	roots, err := store.GetTreeByTraceID(context.Background(), "trace-n")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "order.placed", roots[0].EventName)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "stock.reserved", roots[0].Children[0].EventName)
	assert.Equal(t, StatusSuccess, roots[0].Children[0].Status)
}

func TestMiddleware_GeneratesTraceID(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	q, err := NewQueue(store)
	require.NoError(t, err)

	startQueue(t, q)

	var traceID string

	handler := Middleware(q)(func(ctx context.Context, _ *consumer.Message) error {
		_, traceID, _ = RecordFromContext(ctx)
		return nil
	})

	require.NoError(t, handler(context.Background(), &consumer.Message{Name: "ping"}))
	flush(t, q)

	require.NotEmpty(t, traceID)

	page, err := store.GetPage(context.Background(), Filter{TraceID: traceID})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.Items[0].EventCategory)
	assert.Empty(t, page.Items[0].Payload)
}

func TestMiddleware_NilQueuePassesThrough(t *testing.T) {
	t.Parallel()

	called := false
	handler := Middleware(nil)(func(context.Context, *consumer.Message) error {
		called = true
		return nil
	})

	require.NoError(t, handler(context.Background(), &consumer.Message{Name: "x"}))
	assert.True(t, called)
}

package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/outbox"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tracing"
)

func newEvent(t *testing.T) *outbox.OutboxEvent {
	t.Helper()

	ev, err := outbox.NewOutboxEventWithID(
		uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"),
		"acme",
		"order.placed",
		"order-42",
		event.Integration,
		[]byte(`{"order_id":"order-42"}`),
		[]byte(`{"id":"7d444840-9dc0-11d1-b245-5ffdce74fad2"}`),
	)
	require.NoError(t, err)

	return ev
}

func openerFor(channels ...*fakeConfirmChannel) (ChannelOpener, *int) {
	opened := 0

	return func() (ConfirmChannel, error) {
		if opened >= len(channels) {
			return nil, errors.New("connection refused")
		}

		ch := channels[opened]
		opened++

		return ch, nil
	}, &opened
}

func TestNewPublisher_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPublisher(nil, "events")
	require.ErrorIs(t, err, ErrChannelOpenerRequired)

	open, _ := openerFor()

	_, err = NewPublisher(open, " ")
	require.ErrorIs(t, err, ErrExchangeRequired)

	var nilPub *Publisher
	require.ErrorIs(t, nilPub.Publish(context.Background(), newEvent(t)), ErrPublisherRequired)
}

func TestPublisher_PublishesAndWaitsForConfirm(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmChannel()
	open, opened := openerFor(ch)

	pub, err := NewPublisher(open, "events")
	require.NoError(t, err)

	ctx := tracing.ContextWithRecord(context.Background(), tracing.Record{ID: "rec-1", TraceID: "trace-1"})
	ev := newEvent(t)

	require.NoError(t, pub.Publish(ctx, ev))
	require.NoError(t, pub.Publish(ctx, ev))
	assert.Equal(t, 1, *opened)

	msgs := ch.messages()
	require.Len(t, msgs, 2)

	got := msgs[0]
	assert.Equal(t, "events", got.exchange)
	assert.Equal(t, "order.placed", got.key)
	assert.Equal(t, ev.ID.String(), got.msg.MessageId)
	assert.Equal(t, "order.placed", got.msg.Type)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.JSONEq(t, `{"order_id":"order-42"}`, string(got.msg.Body))
	assert.Equal(t, "acme", got.msg.Headers[HeaderTenantID])
	assert.Equal(t, "order-42", got.msg.Headers[HeaderAggregateID])
	assert.Equal(t, int32(event.Integration), got.msg.Headers[HeaderEventCategory])
	assert.Equal(t, "rec-1", got.msg.Headers[tracing.HeaderParentID])
	assert.Equal(t, "trace-1", got.msg.Headers[tracing.HeaderTraceID])
	require.NoError(t, got.msg.Headers.Validate())
}

func TestPublisher_NackKeepsChannel(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmChannel()
	ch.ack = false
	open, opened := openerFor(ch)

	pub, err := NewPublisher(open, "events")
	require.NoError(t, err)

	require.ErrorIs(t, pub.Publish(context.Background(), newEvent(t)), ErrPublishNacked)
	require.ErrorIs(t, pub.Publish(context.Background(), newEvent(t)), ErrPublishNacked)
	assert.Equal(t, 1, *opened)
	assert.False(t, ch.closed)
}

func TestPublisher_ConfirmTimeoutReopensChannel(t *testing.T) {
	t.Parallel()

	silent := newFakeConfirmChannel()
	silent.silent = true
	healthy := newFakeConfirmChannel()
	open, opened := openerFor(silent, healthy)

	pub, err := NewPublisher(open, "events", WithConfirmTimeout(20*time.Millisecond))
	require.NoError(t, err)

	require.ErrorIs(t, pub.Publish(context.Background(), newEvent(t)), ErrConfirmTimeout)
	assert.True(t, silent.closed)

	require.NoError(t, pub.Publish(context.Background(), newEvent(t)))
	assert.Equal(t, 2, *opened)
	assert.Len(t, healthy.messages(), 1)
}

func TestPublisher_BrokerCloseReopensChannel(t *testing.T) {
	t.Parallel()

	first := newFakeConfirmChannel()
	second := newFakeConfirmChannel()
	open, opened := openerFor(first, second)

	pub, err := NewPublisher(open, "events")
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), newEvent(t)))

	first.closes <- &amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"}

	require.NoError(t, pub.Publish(context.Background(), newEvent(t)))
	assert.Equal(t, 2, *opened)
	assert.Len(t, second.messages(), 1)
}

func TestPublisher_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmChannel()
	ch.publishErr = errors.New("channel/connection is not open")

	attempts := 0
	open := func() (ConfirmChannel, error) {
		attempts++
		return ch, nil
	}

	pub, err := NewPublisher(open, "events", WithBreakerSettings(BreakerSettings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 2,
	}))
	require.NoError(t, err)

	for range 2 {
		err := pub.Publish(context.Background(), newEvent(t))
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrCircuitOpen)
	}

	assert.Equal(t, gobreaker.StateOpen, pub.BreakerState())

	err = pub.Publish(context.Background(), newEvent(t))
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, attempts)
}

func TestPublisher_ConfirmModeUnavailable(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmChannel()
	ch.confirmErr = errors.New("not supported")
	open, _ := openerFor(ch)

	pub, err := NewPublisher(open, "events")
	require.NoError(t, err)

	require.ErrorIs(t, pub.Publish(context.Background(), newEvent(t)), ErrConfirmModeUnavailable)
	assert.True(t, ch.closed)
}

func TestPublisher_Close(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmChannel()
	open, _ := openerFor(ch)

	pub, err := NewPublisher(open, "events")
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), newEvent(t)))
	require.NoError(t, pub.Close())
	assert.True(t, ch.closed)

	require.ErrorIs(t, pub.Publish(context.Background(), newEvent(t)), ErrPublisherClosed)
}

func TestPublisher_AsOutboxDefaultHandler(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmChannel()
	open, _ := openerFor(ch)

	pub, err := NewPublisher(open, "events")
	require.NoError(t, err)

	handlers := outbox.NewHandlerRegistry()
	require.NoError(t, handlers.SetDefault(pub.Publish))

	require.NoError(t, handlers.Handle(context.Background(), newEvent(t)))
	assert.Len(t, ch.messages(), 1)
}

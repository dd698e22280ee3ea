package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestHandlerRegistry_RegisterAndHandle(t *testing.T) {
	t.Parallel()

	registry := NewHandlerRegistry()
	handled := false

	require.NoError(t, registry.Register(" order.created ", func(_ context.Context, ev *OutboxEvent) error {
		handled = true
		require.Equal(t, "order.created", ev.EventType)

		return nil
	}))

	require.NoError(t, registry.Handle(context.Background(), &OutboxEvent{ID: uuid.New(), EventType: "order.created"}))
	require.True(t, handled)
}

func TestHandlerRegistry_Errors(t *testing.T) {
	t.Parallel()

	registry := NewHandlerRegistry()
	noop := func(context.Context, *OutboxEvent) error { return nil }

	require.ErrorIs(t, registry.Register("", noop), ErrEventTypeRequired)
	require.ErrorIs(t, registry.Register("x", nil), ErrEventHandlerRequired)
	require.NoError(t, registry.Register("x", noop))
	require.ErrorIs(t, registry.Register("x", noop), ErrHandlerAlreadyRegistered)

	require.ErrorIs(t, registry.Handle(context.Background(), nil), ErrOutboxEventRequired)
	require.ErrorIs(t, registry.Handle(context.Background(), &OutboxEvent{}), ErrEventTypeRequired)
	require.ErrorIs(t, registry.Handle(context.Background(), &OutboxEvent{EventType: "y"}), ErrHandlerNotRegistered)

	var nilRegistry *HandlerRegistry
	require.ErrorIs(t, nilRegistry.Register("x", noop), ErrHandlerRegistryRequired)
	require.ErrorIs(t, nilRegistry.Handle(context.Background(), &OutboxEvent{EventType: "x"}), ErrHandlerRegistryRequired)
	require.ErrorIs(t, nilRegistry.SetDefault(noop), ErrHandlerRegistryRequired)
}

func TestHandlerRegistry_DefaultHandler(t *testing.T) {
	t.Parallel()

	registry := NewHandlerRegistry()
	errSpecific := errors.New("specific")

	require.NoError(t, registry.Register("order.created", func(context.Context, *OutboxEvent) error { return errSpecific }))
	require.ErrorIs(t, registry.SetDefault(nil), ErrEventHandlerRequired)

	var fallbackTypes []string
	require.NoError(t, registry.SetDefault(func(_ context.Context, ev *OutboxEvent) error {
		fallbackTypes = append(fallbackTypes, ev.EventType)
		return nil
	}))

	require.ErrorIs(t, registry.Handle(context.Background(), &OutboxEvent{EventType: "order.created"}), errSpecific)
	require.NoError(t, registry.Handle(context.Background(), &OutboxEvent{EventType: "invoice.issued"}))
	require.Equal(t, []string{"invoice.issued"}, fallbackTypes)
}

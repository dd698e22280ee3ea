package outbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// EventHandler publishes one outbox row.
type EventHandler func(ctx context.Context, event *OutboxEvent) error

// HandlerRegistry maps event types to handlers. Types without a handler go
// to the default handler when one is set.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
	fallback EventHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]EventHandler{}}
}

// Register binds handler to eventType. A type can be bound once.
func (registry *HandlerRegistry) Register(eventType string, handler EventHandler) error {
	if registry == nil {
		return ErrHandlerRegistryRequired
	}

	normalizedType := strings.TrimSpace(eventType)
	if normalizedType == "" {
		return ErrEventTypeRequired
	}

	if handler == nil {
		return ErrEventHandlerRequired
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if registry.handlers == nil {
		registry.handlers = make(map[string]EventHandler)
	}

	if _, exists := registry.handlers[normalizedType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, normalizedType)
	}

	registry.handlers[normalizedType] = handler

	return nil
}

// SetDefault sets the handler used for unregistered event types. The relay
// points it at the broker publisher.
func (registry *HandlerRegistry) SetDefault(handler EventHandler) error {
	if registry == nil {
		return ErrHandlerRegistryRequired
	}

	if handler == nil {
		return ErrEventHandlerRequired
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.fallback = handler

	return nil
}

// Handle runs the handler bound to the event type.
func (registry *HandlerRegistry) Handle(ctx context.Context, event *OutboxEvent) error {
	if registry == nil {
		return ErrHandlerRegistryRequired
	}

	if event == nil {
		return ErrOutboxEventRequired
	}

	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		return ErrEventTypeRequired
	}

	registry.mu.RLock()
	handler, ok := registry.handlers[eventType]
	if !ok {
		handler = registry.fallback
	}
	registry.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("%w: %s", ErrHandlerNotRegistered, eventType)
	}

	return handler(ctx, event)
}

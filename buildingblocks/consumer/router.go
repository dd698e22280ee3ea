package consumer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/event"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/outbox"
)

type route struct {
	handlerName string
	handle      HandlerFunc
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger log.Logger) RouterOption {
	return func(r *Router) {
		if !nilcheck.Interface(logger) {
			r.logger = logger
		}
	}
}

// WithTracer sets the tracer spans are started with.
func WithTracer(tracer trace.Tracer) RouterOption {
	return func(r *Router) {
		if !nilcheck.Interface(tracer) {
			r.tracer = tracer
		}
	}
}

// Router dispatches messages to the handlers registered for their name.
type Router struct {
	logger log.Logger
	tracer trace.Tracer

	mu          sync.RWMutex
	middlewares []Middleware
	routes      map[string][]route
}

var _ outbox.DomainNotifier = (*Router)(nil)

// NewRouter creates an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		logger: log.NewNop(),
		tracer: otel.Tracer("buildingblocks.consumer"),
		routes: make(map[string][]route),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Use appends middleware applied to handlers registered afterwards.
func (r *Router) Use(middlewares ...Middleware) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mw := range middlewares {
		if mw != nil {
			r.middlewares = append(r.middlewares, mw)
		}
	}
}

// Register adds handlerName as a handler of eventName. The router-wide
// middleware wraps mws, which wrap handle.
func (r *Router) Register(eventName, handlerName string, handle HandlerFunc, mws ...Middleware) error {
	if r == nil {
		return ErrRouterRequired
	}

	eventName = strings.TrimSpace(eventName)
	if eventName == "" {
		return ErrEventNameRequired
	}

	handlerName = strings.TrimSpace(handlerName)
	if handlerName == "" {
		return ErrHandlerNameRequired
	}

	if handle == nil {
		return ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.routes == nil {
		r.routes = make(map[string][]route)
	}

	for _, existing := range r.routes[eventName] {
		if existing.handlerName == handlerName {
			return fmt.Errorf("%w: %s -> %s", ErrHandlerAlreadyRegistered, eventName, handlerName)
		}
	}

	chain := make([]Middleware, 0, len(r.middlewares)+len(mws))
	chain = append(chain, r.middlewares...)
	chain = append(chain, mws...)

	r.routes[eventName] = append(r.routes[eventName], route{
		handlerName: handlerName,
		handle:      Chain(chain...)(handle),
	})

	return nil
}

// EventNames lists the event names with at least one handler, sorted.
func (r *Router) EventNames() []string {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.routes))
}

// Dispatch runs every handler of msg.Name in registration order. Handler
// errors are joined, so errors.Is reports any of them; a message nobody
// handles is not an error.
func (r *Router) Dispatch(ctx context.Context, msg *Message) error {
	if r == nil {
		return ErrRouterRequired
	}

	if msg == nil {
		return ErrMessageRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.RLock()
	routes := slices.Clone(r.routes[msg.Name])
	r.mu.RUnlock()

	if len(routes) == 0 {
		r.logger.Log(ctx, log.LevelDebug, "no handler for event", log.String("event_name", msg.Name))

		return nil
	}

	var errs []error

	for _, rt := range routes {
		if err := r.run(ctx, rt, msg); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Router) run(ctx context.Context, rt route, msg *Message) (err error) {
	ctx, span := r.tracer.Start(ctx, "consumer.handle")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.name", msg.Name),
		attribute.String("event.id", msg.ID),
		attribute.String("handler.name", rt.handlerName),
	)

	ctx = ContextWithHandlerName(ctx, rt.handlerName)

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanicked, rt.handlerName, recovered)

			r.logger.Log(ctx, log.LevelError, "event handler panicked",
				log.String("handler", rt.handlerName),
				log.String("event_name", msg.Name),
				log.String("panic", fmt.Sprint(recovered)),
			)
		}

		if err != nil {
			libOpentelemetry.HandleSpanError(&span, "event handler failed", err)
		}
	}()

	if err := rt.handle(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", rt.handlerName, err)
	}

	return nil
}

// NotifyDomain delivers the domain events a unit of work committed. Each
// event runs under tenantKey.
func (r *Router) NotifyDomain(ctx context.Context, tenantKey string, events []event.Captured) error {
	if r == nil {
		return ErrRouterRequired
	}

	var errs []error

	for _, captured := range events {
		msg, err := FromCaptured(tenantKey, captured)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if err := r.Dispatch(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

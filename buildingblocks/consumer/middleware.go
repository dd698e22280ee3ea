package consumer

import (
	"context"
	"strings"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
)

// HandlerFunc handles one message.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Middleware wraps a handler with a cross-cutting concern.
type Middleware func(next HandlerFunc) HandlerFunc

type handlerNameKey struct{}

// ContextWithHandlerName records the name of the handler being run.
func ContextWithHandlerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, handlerNameKey{}, name)
}

// HandlerNameFromContext returns the name set by the Router for the running
// handler.
func HandlerNameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	name, _ := ctx.Value(handlerNameKey{}).(string)

	return name
}

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			if middlewares[i] != nil {
				next = middlewares[i](next)
			}
		}

		return next
	}
}

// WithTenant runs the handler under the tenant the message belongs to. A
// message without tenant runs under the tenant already on ctx.
func WithTenant() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *Message) error {
			if msg == nil {
				return ErrMessageRequired
			}

			if key := strings.TrimSpace(msg.TenantID); key != "" && key != tenant.Current(ctx) {
				ctx = tenant.SwitchTo(ctx, key)
			}

			return next(ctx, msg)
		}
	}
}

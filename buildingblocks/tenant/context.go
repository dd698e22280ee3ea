package tenant

import (
	"context"
	"strings"
)

// MainKey is the reserved key of the default tenant.
const MainKey = "main"

type frameKey struct{}

// frame is one entry of the per-request tenant stack. Frames are immutable,
// so a context derived from another never affects its parent.
type frame struct {
	key    string
	appID  string
	parent *frame
}

func frameFrom(ctx context.Context) *frame {
	if ctx == nil {
		return nil
	}

	f, _ := ctx.Value(frameKey{}).(*frame)

	return f
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return MainKey
	}

	return key
}

// SwitchTo returns a context whose current tenant is key. A blank key
// switches to the main tenant.
func SwitchTo(ctx context.Context, key string) context.Context {
	return SwitchToApp(ctx, key, "")
}

// SwitchToApp is SwitchTo with an application id for multi-application
// deployments.
func SwitchToApp(ctx context.Context, key, appID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, frameKey{}, &frame{
		key:    normalizeKey(key),
		appID:  strings.TrimSpace(appID),
		parent: frameFrom(ctx),
	})
}

// Restore returns a context whose current tenant is the one active before
// the most recent SwitchTo. Restoring past the first switch yields the main
// tenant.
func Restore(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	current := frameFrom(ctx)
	if current == nil {
		return ctx
	}

	if current.parent == nil {
		return context.WithValue(ctx, frameKey{}, (*frame)(nil))
	}

	return context.WithValue(ctx, frameKey{}, current.parent)
}

// Current returns the current tenant key, MainKey when none was selected.
func Current(ctx context.Context) string {
	if f := frameFrom(ctx); f != nil {
		return f.key
	}

	return MainKey
}

// AppID returns the application id selected alongside the current tenant.
func AppID(ctx context.Context) string {
	if f := frameFrom(ctx); f != nil {
		return f.appID
	}

	return ""
}

// IsMain reports whether ctx runs against the main tenant.
func IsMain(ctx context.Context) bool {
	return Current(ctx) == MainKey
}

// Run calls fn with ctx switched to key. Nothing outlives the call: the
// caller's ctx still carries its previous tenant afterwards, panics included.
func Run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}

	return fn(SwitchTo(ctx, key))
}

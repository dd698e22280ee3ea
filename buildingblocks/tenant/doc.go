// Package tenant routes work to per-tenant data stores.
//
// The current tenant travels in context.Context: SwitchTo pushes a tenant
// frame, Restore pops back to the previous one and Current reads the top of
// the stack (MainKey when nothing was switched). A Registry maps tenant keys
// to lazily opened, cached Store handles, building each handle exactly once
// even under concurrent first use.
//
//	ctx = tenant.SwitchTo(ctx, "acme")
//	store, err := registry.Resolve(ctx, tenant.Current(ctx))
//
// Keys without a descriptor fall back to the main store silently.
package tenant

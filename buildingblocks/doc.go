// Package buildingblocks holds the cross-cutting pieces shared by the outbox
// building blocks: the request tracking bundle carried in context and the
// Launcher that runs long-lived components side by side.
//
// Typical usage at ingress:
//
//	ctx = buildingblocks.ContextWithLogger(ctx, logger)
//	ctx = buildingblocks.ContextWithTracer(ctx, tracer)
//	ctx = buildingblocks.ContextWithHeaderID(ctx, requestID)
//
// Tenant switching, units of work, the outbox bridge, trace persistence and
// resource locks live in their own subpackages.
package buildingblocks

// Package consumer routes integration and domain events to named handlers.
//
// A Router maps an event name to the handlers registered for it. Each
// handler is wrapped, at registration, by the router-wide middleware and its
// own: WithTenant selects the tenant the event belongs to, Guard serialises
// work on the same event through a lock.ResourceGuard, and
// tracing.Middleware records handler entry and exit.
//
// The same Router serves the in-process domain notification of the outbox
// bridge (NotifyDomain) and the deliveries of a message transport (Dispatch).
package consumer

// Package outbox stages integration events in the tenant's store inside the
// unit of work transaction and publishes them after commit.
//
// Bridge ties a uow.UnitOfWork to the outbox: its before-commit hook writes
// one row per harvested integration event with the same *sql.Tx, and its
// after-commit hook wakes the Dispatcher and hands domain events to an
// in-process notifier. A rolled back unit never reaches either path.
//
// Dispatcher drains rows per tenant, retries transient publish failures with
// jittered backoff and marks rows PUBLISHED, FAILED or INVALID. Delivery is
// at-least-once; consumers must be idempotent.
package outbox

// Package postgres stores outbox rows in PostgreSQL.
//
// Each call runs against the store of the tenant carried by the context, as
// resolved by the tenant registry. Every query also filters on tenant_id so
// tenants with Shared isolation can live in the main database next to it.
// Migrate applies the embedded migrations/ to one store.
package postgres

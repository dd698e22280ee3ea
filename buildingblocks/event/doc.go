// Package event captures domain and integration events raised inside a unit
// of work.
//
// Events are registered into a Collector under the identity of the aggregate
// that raised them. At the commit boundary the collector is harvested once:
// every captured event learns its aggregate id through Metadata["id"] and
// the buckets are emptied. Domain() and Integration() views harvest only
// their own category, so in-process notification and cross-process
// publication can be driven independently from the same registrations.
package event

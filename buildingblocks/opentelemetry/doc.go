// Package opentelemetry wires OpenTelemetry providers for the relay and
// offers the span and queue-header helpers used by the outbox, lock,
// tracing and transport packages.
package opentelemetry

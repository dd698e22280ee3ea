// Package log defines the logging interface and typed fields shared by every
// building block.
//
// Adapters (such as the zap package) implement Logger so that tenant routing,
// the outbox dispatcher, lock guards and the trace queue log consistently
// regardless of backend.
package log

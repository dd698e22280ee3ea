// Package lock defines ResourceGuard, the cluster-wide mutual exclusion used
// to keep integration-event handlers from processing the same event twice
// under concurrent redelivery.
//
// A guard hands out a Ticket per (resource, key). TryAcquire never waits:
// contention yields a nil ticket and a nil error. Acquire retries with
// jittered backoff until it wins or ctx is done. Release is best-effort and
// safe to call more than once.
//
// The redis subpackage provides the production guard; LocalGuard serves a
// single process and tests.
package lock

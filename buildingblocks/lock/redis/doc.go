// Package redis implements lock.ResourceGuard with redsync mutexes over a
// go-redis client. Lease expiry is enforced by the Redis key TTL, so a
// crashed owner never blocks a resource longer than its ttl.
package redis

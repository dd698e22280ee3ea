package consumer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/lock"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
)

// DefaultGuardResource is the lock resource name handler guards use.
const DefaultGuardResource = "event-handler"

type guardConfig struct {
	resource string
	ttl      time.Duration
	wait     bool
	logger   log.Logger
}

// GuardOption configures Guard.
type GuardOption func(*guardConfig)

// GuardResource sets the lock resource name.
func GuardResource(name string) GuardOption {
	return func(cfg *guardConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.resource = name
		}
	}
}

// GuardTTL sets the lease; lock.DefaultTTL otherwise.
func GuardTTL(ttl time.Duration) GuardOption {
	return func(cfg *guardConfig) {
		cfg.ttl = ttl
	}
}

// GuardWait makes the guard wait for the lock, bounded by ctx, instead of
// failing fast.
func GuardWait() GuardOption {
	return func(cfg *guardConfig) {
		cfg.wait = true
	}
}

// GuardLogger sets the logger for release failures.
func GuardLogger(logger log.Logger) GuardOption {
	return func(cfg *guardConfig) {
		if !nilcheck.Interface(logger) {
			cfg.logger = logger
		}
	}
}

// Guard runs the handler only while holding the lock
// lock.Key(handlerName, msg.ID). When another worker holds it the handler is
// skipped and the returned error satisfies lock.IsRetryable.
func Guard(guard lock.ResourceGuard, opts ...GuardOption) Middleware {
	cfg := guardConfig{resource: DefaultGuardResource, logger: log.NewNop()}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *Message) error {
			if nilcheck.Interface(guard) {
				return lock.ErrGuardRequired
			}

			if msg == nil {
				return ErrMessageRequired
			}

			key := lock.Key(HandlerNameFromContext(ctx), msg.ID)

			var (
				ticket *lock.Ticket
				err    error
			)

			if cfg.wait {
				ticket, err = guard.Acquire(ctx, cfg.resource, key, cfg.ttl)
			} else {
				ticket, err = guard.TryAcquire(ctx, cfg.resource, key, cfg.ttl)
			}

			if err != nil {
				return fmt.Errorf("acquire %s: %w", key, err)
			}

			if ticket == nil {
				return fmt.Errorf("%w: %s", lock.ErrResourceBusy, key)
			}

			defer func() {
				if releaseErr := guard.Release(context.WithoutCancel(ctx), ticket); releaseErr != nil {
					cfg.logger.Log(ctx, log.LevelWarn, "failed to release handler lock",
						log.String("lock_key", key), log.Err(releaseErr))
				}
			}()

			return next(ctx, msg)
		}
	}
}

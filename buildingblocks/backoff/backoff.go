// Package backoff computes retry delays (exponential growth with full jitter)
// and waits for them while honouring context cancellation.
package backoff

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	mrand "math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt, saturating at math.MaxInt64.
// Negative attempts count as zero.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	attempt = max(0, min(attempt, maxShift))
	multiplier := int64(1) << attempt

	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return base * time.Duration(multiplier)
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return time.Duration(mrand.Int64N(int64(delay))) // #nosec G404 -- jitter only
	}

	return time.Duration(n.Int64())
}

// ExponentialWithJitter returns a random duration in [0, base * 2^attempt).
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	return FullJitter(Exponential(base, attempt))
}

// Policy bounds an exponential-with-jitter schedule.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// Next returns the delay before retry number attempt (zero based). The
// result is capped at Max when Max is positive, and never drops below Base/2
// so retries do not spin.
func (p Policy) Next(attempt int) time.Duration {
	delay := ExponentialWithJitter(p.Base, attempt)

	if floor := p.Base / 2; delay < floor {
		delay = floor
	}

	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}

	return delay
}

// SleepWithContext sleeps for duration or until ctx is done, whichever comes
// first. A non-positive duration returns immediately.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// WaitContext returns ctx.Err() when ctx is already done and otherwise sleeps
// for duration.
func WaitContext(ctx context.Context, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done: %w", err)
	}

	return SleepWithContext(ctx, duration)
}

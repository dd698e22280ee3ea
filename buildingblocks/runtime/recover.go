package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxStackLength = 4096

var (
	panicCounterOnce sync.Once
	panicCounter     metric.Int64Counter
)

func panicsRecovered() metric.Int64Counter {
	panicCounterOnce.Do(func() {
		counter, err := otel.GetMeterProvider().
			Meter("buildingblocks.runtime").
			Int64Counter("panic.recovered", metric.WithDescription("Panics recovered in background goroutines"))
		if err == nil {
			panicCounter = counter
		}
	})

	return panicCounter
}

// SafeGo runs fn in a new goroutine. A panic inside fn is logged with its
// stack and swallowed.
func SafeGo(logger log.Logger, name string, fn func()) {
	if fn == nil {
		return
	}

	go func() {
		defer RecoverAndLog(logger, name)

		fn()
	}()
}

// SafeGoWithContext is SafeGo for functions that take a context. component
// and name label the panic log entry and metric.
func SafeGoWithContext(ctx context.Context, logger log.Logger, component, name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer RecoverAndLogWithContext(ctx, logger, component, name)

		fn(ctx)
	}()
}

// RecoverAndLog must be deferred. It recovers a panic and logs it.
func RecoverAndLog(logger log.Logger, name string) {
	if r := recover(); r != nil {
		handlePanic(context.Background(), logger, "", name, r)
	}
}

// RecoverAndLogWithContext must be deferred. It recovers a panic, logs it and
// increments the panic counter.
func RecoverAndLogWithContext(ctx context.Context, logger log.Logger, component, name string) {
	if r := recover(); r != nil {
		handlePanic(ctx, logger, component, name, r)
	}
}

func handlePanic(ctx context.Context, logger log.Logger, component, name string, value any) {
	stack := debug.Stack()
	if len(stack) > maxStackLength {
		stack = stack[:maxStackLength]
	}

	if logger != nil {
		logger.Log(ctx, log.LevelError, "panic recovered",
			log.String("component", component),
			log.String("goroutine", name),
			log.String("panic", fmt.Sprint(value)),
			log.String("stack", string(stack)),
		)
	}

	if counter := panicsRecovered(); counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("goroutine", name),
		))
	}
}

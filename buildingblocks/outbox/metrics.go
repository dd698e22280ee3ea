package outbox

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type dispatcherMetrics struct {
	eventsDispatched  metric.Int64Counter
	eventsFailed      metric.Int64Counter
	eventsStateFailed metric.Int64Counter
	wakeups           metric.Int64Counter
	dispatchLatency   metric.Float64Histogram
	queueDepth        metric.Int64Gauge
}

func newDispatcherMetrics(provider metric.MeterProvider) (dispatcherMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("buildingblocks.outbox.dispatcher")

	var (
		m   dispatcherMetrics
		err error
	)

	if m.eventsDispatched, err = meter.Int64Counter(
		"outbox.events.dispatched",
		metric.WithDescription("Outbox events published"),
		metric.WithUnit("{event}"),
	); err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.events.dispatched counter: %w", err)
	}

	if m.eventsFailed, err = meter.Int64Counter(
		"outbox.events.failed",
		metric.WithDescription("Outbox events that failed to publish"),
		metric.WithUnit("{event}"),
	); err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.events.failed counter: %w", err)
	}

	if m.eventsStateFailed, err = meter.Int64Counter(
		"outbox.events.state_update_failed",
		metric.WithDescription("Outbox events published but not persisted as published"),
		metric.WithUnit("{event}"),
	); err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.events.state_update_failed counter: %w", err)
	}

	if m.wakeups, err = meter.Int64Counter(
		"outbox.dispatch.wakeups",
		metric.WithDescription("Dispatch cycles triggered by a commit notification"),
		metric.WithUnit("{cycle}"),
	); err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.dispatch.wakeups counter: %w", err)
	}

	if m.dispatchLatency, err = meter.Float64Histogram(
		"outbox.dispatch.latency",
		metric.WithDescription("Time taken per tenant dispatch cycle"),
		metric.WithUnit("s"),
	); err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.dispatch.latency histogram: %w", err)
	}

	if m.queueDepth, err = meter.Int64Gauge(
		"outbox.queue.depth",
		metric.WithDescription("Outbox events selected in a dispatch cycle"),
		metric.WithUnit("{event}"),
	); err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create outbox.queue.depth gauge: %w", err)
	}

	return m, nil
}

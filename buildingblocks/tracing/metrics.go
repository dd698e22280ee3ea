package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type queueMetrics struct {
	enqueued  metric.Int64Counter
	persisted metric.Int64Counter
	failed    metric.Int64Counter
}

func newQueueMetrics(provider metric.MeterProvider, pending func() int64) (queueMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("buildingblocks.tracing.queue")

	var (
		m   queueMetrics
		err error
	)

	if m.enqueued, err = meter.Int64Counter(
		"trace.records.enqueued",
		metric.WithDescription("Trace records written to the queue"),
		metric.WithUnit("{record}"),
	); err != nil {
		return queueMetrics{}, fmt.Errorf("create trace.records.enqueued counter: %w", err)
	}

	if m.persisted, err = meter.Int64Counter(
		"trace.records.persisted",
		metric.WithDescription("Trace records saved by the store"),
		metric.WithUnit("{record}"),
	); err != nil {
		return queueMetrics{}, fmt.Errorf("create trace.records.persisted counter: %w", err)
	}

	if m.failed, err = meter.Int64Counter(
		"trace.records.failed",
		metric.WithDescription("Trace records the store rejected; they are dropped"),
		metric.WithUnit("{record}"),
	); err != nil {
		return queueMetrics{}, fmt.Errorf("create trace.records.failed counter: %w", err)
	}

	if _, err = meter.Int64ObservableGauge(
		"trace.queue.pending",
		metric.WithDescription("Trace records waiting to be persisted"),
		metric.WithUnit("{record}"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(pending())

			return nil
		}),
	); err != nil {
		return queueMetrics{}, fmt.Errorf("create trace.queue.pending gauge: %w", err)
	}

	return m, nil
}

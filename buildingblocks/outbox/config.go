package outbox

import (
	"strings"
	"time"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultDispatchInterval            = 2 * time.Second
	defaultBatchSize                   = 50
	defaultPublishMaxAttempts          = 3
	defaultPublishBackoff              = 200 * time.Millisecond
	defaultListPendingFailureThreshold = 3
	defaultRetryWindow                 = 5 * time.Minute
	defaultMaxDispatchAttempts         = 10
	defaultProcessingTimeout           = 10 * time.Minute
	defaultPriorityBudget              = 10
	defaultMaxFailedPerBatch           = 25
	defaultMaxTenantMetricDimensions   = 1000
)

// DispatcherConfig controls polling, retry and metric behavior.
type DispatcherConfig struct {
	// DispatchInterval is the period between polling cycles. Notify wakes
	// the dispatcher earlier.
	DispatchInterval time.Duration
	// BatchSize bounds the rows handled per tenant per cycle.
	BatchSize int
	// PublishMaxAttempts bounds in-cycle publish attempts for one row.
	PublishMaxAttempts int
	// PublishBackoff is the base delay between in-cycle attempts.
	PublishBackoff time.Duration
	// ListPendingFailureThreshold raises an error log once a tenant fails to
	// list pending rows this many cycles in a row.
	ListPendingFailureThreshold int
	// RetryWindow is the minimum age of a FAILED row before it is retried.
	RetryWindow time.Duration
	// MaxDispatchAttempts is the total attempts before a row turns INVALID.
	MaxDispatchAttempts int
	// ProcessingTimeout is the age after which a PROCESSING row is reclaimed.
	ProcessingTimeout time.Duration
	// PriorityBudget bounds rows selected through PriorityEventTypes.
	PriorityBudget int
	// MaxFailedPerBatch bounds FAILED rows reclaimed per cycle.
	MaxFailedPerBatch int
	// PriorityEventTypes are pulled first, in order.
	PriorityEventTypes []string
	// IncludeTenantMetrics adds a tenant attribute to metrics.
	IncludeTenantMetrics bool
	// MaxTenantMetricDimensions caps distinct tenant labels; the rest share
	// an overflow label.
	MaxTenantMetricDimensions int
	// MeterProvider overrides the global meter provider.
	MeterProvider metric.MeterProvider
}

// DefaultDispatcherConfig returns the baseline configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		DispatchInterval:            defaultDispatchInterval,
		BatchSize:                   defaultBatchSize,
		PublishMaxAttempts:          defaultPublishMaxAttempts,
		PublishBackoff:              defaultPublishBackoff,
		ListPendingFailureThreshold: defaultListPendingFailureThreshold,
		RetryWindow:                 defaultRetryWindow,
		MaxDispatchAttempts:         defaultMaxDispatchAttempts,
		ProcessingTimeout:           defaultProcessingTimeout,
		PriorityBudget:              defaultPriorityBudget,
		MaxFailedPerBatch:           defaultMaxFailedPerBatch,
		MaxTenantMetricDimensions:   defaultMaxTenantMetricDimensions,
	}
}

func (cfg *DispatcherConfig) normalize() {
	defaults := DefaultDispatcherConfig()

	positiveDuration(&cfg.DispatchInterval, defaults.DispatchInterval)
	positiveDuration(&cfg.PublishBackoff, defaults.PublishBackoff)
	positiveDuration(&cfg.RetryWindow, defaults.RetryWindow)
	positiveDuration(&cfg.ProcessingTimeout, defaults.ProcessingTimeout)

	positiveInt(&cfg.BatchSize, defaults.BatchSize)
	positiveInt(&cfg.PublishMaxAttempts, defaults.PublishMaxAttempts)
	positiveInt(&cfg.ListPendingFailureThreshold, defaults.ListPendingFailureThreshold)
	positiveInt(&cfg.MaxDispatchAttempts, defaults.MaxDispatchAttempts)
	positiveInt(&cfg.PriorityBudget, defaults.PriorityBudget)
	positiveInt(&cfg.MaxFailedPerBatch, defaults.MaxFailedPerBatch)
	positiveInt(&cfg.MaxTenantMetricDimensions, defaults.MaxTenantMetricDimensions)
}

func positiveDuration(v *time.Duration, fallback time.Duration) {
	if *v <= 0 {
		*v = fallback
	}
}

func positiveInt(v *int, fallback int) {
	if *v <= 0 {
		*v = fallback
	}
}

// DispatcherOption mutates the dispatcher at construction.
type DispatcherOption func(*Dispatcher)

// WithConfig replaces the whole configuration. Zero fields take defaults.
func WithConfig(cfg DispatcherConfig) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		dispatcher.cfg = cfg
	}
}

// WithBatchSize sets the rows handled per tenant per cycle.
func WithBatchSize(size int) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if size > 0 {
			dispatcher.cfg.BatchSize = size
		}
	}
}

// WithDispatchInterval sets the polling period.
func WithDispatchInterval(interval time.Duration) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if interval > 0 {
			dispatcher.cfg.DispatchInterval = interval
		}
	}
}

// WithPublishMaxAttempts sets in-cycle publish attempts per row.
func WithPublishMaxAttempts(maxAttempts int) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if maxAttempts > 0 {
			dispatcher.cfg.PublishMaxAttempts = maxAttempts
		}
	}
}

// WithPublishBackoff sets the base delay between in-cycle attempts.
func WithPublishBackoff(backoff time.Duration) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if backoff > 0 {
			dispatcher.cfg.PublishBackoff = backoff
		}
	}
}

// WithRetryWindow sets the cooldown before FAILED rows are retried.
func WithRetryWindow(retryWindow time.Duration) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if retryWindow > 0 {
			dispatcher.cfg.RetryWindow = retryWindow
		}
	}
}

// WithMaxDispatchAttempts sets total attempts before a row turns INVALID.
func WithMaxDispatchAttempts(attempts int) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if attempts > 0 {
			dispatcher.cfg.MaxDispatchAttempts = attempts
		}
	}
}

// WithProcessingTimeout sets the age after which PROCESSING rows are reclaimed.
func WithProcessingTimeout(timeout time.Duration) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if timeout > 0 {
			dispatcher.cfg.ProcessingTimeout = timeout
		}
	}
}

// WithPriorityEventTypes sets event types pulled before other pending rows.
func WithPriorityEventTypes(eventTypes ...string) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		var types []string

		for _, eventType := range eventTypes {
			if normalized := strings.TrimSpace(eventType); normalized != "" {
				types = append(types, normalized)
			}
		}

		dispatcher.cfg.PriorityEventTypes = types
	}
}

// WithRetryClassifier sets the non-retryable error classifier.
func WithRetryClassifier(classifier RetryClassifier) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if nilcheck.Interface(classifier) {
			dispatcher.retryClassifier = nil

			return
		}

		dispatcher.retryClassifier = classifier
	}
}

// WithTenantMetricAttributes toggles the tenant metric attribute.
func WithTenantMetricAttributes(enabled bool) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		dispatcher.cfg.IncludeTenantMetrics = enabled
	}
}

// WithMeterProvider injects a meter provider. nil keeps the global one.
func WithMeterProvider(provider metric.MeterProvider) DispatcherOption {
	return func(dispatcher *Dispatcher) {
		if nilcheck.Interface(provider) {
			dispatcher.cfg.MeterProvider = nil

			return
		}

		dispatcher.cfg.MeterProvider = provider
	}
}

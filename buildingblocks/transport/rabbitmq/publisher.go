package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/outbox"
)

const (
	// DefaultConfirmTimeout bounds the wait for a broker ack.
	DefaultConfirmTimeout = 5 * time.Second

	confirmChannelBuffer = 256
)

// ConfirmChannel is the part of *amqp.Channel the publisher uses.
type ConfirmChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ChannelOpener returns a fresh dedicated channel. The publisher calls it on
// first use and after the broker closed the previous channel.
type ChannelOpener func() (ConfirmChannel, error)

// BreakerSettings configures the publisher circuit breaker.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings trips after five consecutive failed publishes and
// probes the broker again after thirty seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         2,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the publisher logger.
func WithPublisherLogger(logger log.Logger) PublisherOption {
	return func(pub *Publisher) {
		if !nilcheck.Interface(logger) {
			pub.logger = logger
		}
	}
}

// WithConfirmTimeout overrides DefaultConfirmTimeout.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(pub *Publisher) {
		if timeout > 0 {
			pub.confirmTimeout = timeout
		}
	}
}

// WithBreakerSettings overrides DefaultBreakerSettings.
func WithBreakerSettings(settings BreakerSettings) PublisherOption {
	return func(pub *Publisher) {
		pub.breakerSettings = settings
	}
}

// Publisher publishes outbox rows to one exchange and waits for the broker
// confirm of each. Publishes are serialized; confirms arrive in order.
type Publisher struct {
	open            ChannelOpener
	exchange        string
	logger          log.Logger
	confirmTimeout  time.Duration
	breakerSettings BreakerSettings
	breaker         *gobreaker.CircuitBreaker

	mu       sync.Mutex
	ch       ConfirmChannel
	confirms chan amqp.Confirmation
	closed   chan *amqp.Error
	shutdown bool
}

// NewPublisher creates a publisher to exchange. No channel is opened until
// the first publish.
func NewPublisher(open ChannelOpener, exchange string, opts ...PublisherOption) (*Publisher, error) {
	if open == nil {
		return nil, ErrChannelOpenerRequired
	}

	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, ErrExchangeRequired
	}

	pub := &Publisher{
		open:            open,
		exchange:        exchange,
		logger:          log.NewNop(),
		confirmTimeout:  DefaultConfirmTimeout,
		breakerSettings: DefaultBreakerSettings(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pub)
		}
	}

	pub.breaker = pub.newBreaker()

	return pub, nil
}

func (pub *Publisher) newBreaker() *gobreaker.CircuitBreaker {
	settings := pub.breakerSettings

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rabbitmq-publisher-" + pub.exchange,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return settings.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := log.LevelWarn
			if to == gobreaker.StateClosed {
				level = log.LevelInfo
			}

			pub.logger.Log(context.Background(), level, "publisher circuit breaker state changed",
				log.String("breaker", name),
				log.String("from", from.String()),
				log.String("to", to.String()),
			)
		},
	})
}

// Publish sends ev with routing key ev.EventType and waits for the confirm.
// Its signature matches outbox.EventHandler so the dispatcher can use it
// as the default handler.
func (pub *Publisher) Publish(ctx context.Context, ev *outbox.OutboxEvent) error {
	if pub == nil || pub.breaker == nil {
		return ErrPublisherRequired
	}

	if ev == nil {
		return ErrEventRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	_, tracer, _ := buildingblocks.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "rabbitmq.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination.name", pub.exchange),
		attribute.String("messaging.rabbitmq.destination.routing_key", ev.EventType),
		attribute.String("messaging.message.id", ev.ID.String()),
		attribute.String("tenant.id_hash", outbox.HashTenantID(ev.TenantID)),
	)

	msg := publishing(ctx, ev)

	_, err := pub.breaker.Execute(func() (any, error) {
		return nil, pub.publishAndConfirm(ctx, ev.EventType, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}

		libOpentelemetry.HandleSpanError(&span, "Failed to publish event", err)

		return fmt.Errorf("publish %s: %w", ev.EventType, err)
	}

	return nil
}

// BreakerState reports the circuit breaker state.
func (pub *Publisher) BreakerState() gobreaker.State {
	if pub == nil || pub.breaker == nil {
		return gobreaker.StateClosed
	}

	return pub.breaker.State()
}

func (pub *Publisher) publishAndConfirm(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	if pub.shutdown {
		return ErrPublisherClosed
	}

	if err := pub.ensureChannelLocked(); err != nil {
		return err
	}

	if err := pub.ch.PublishWithContext(ctx, pub.exchange, routingKey, false, false, msg); err != nil {
		pub.dropChannelLocked()

		return fmt.Errorf("publish: %w", err)
	}

	err := waitForConfirm(ctx, pub.confirms, pub.closed, pub.confirmTimeout)
	if err != nil && !errors.Is(err, ErrPublishNacked) {
		// An unanswered confirm would be read by the next publish.
		pub.dropChannelLocked()
	}

	return err
}

func (pub *Publisher) ensureChannelLocked() error {
	if pub.ch != nil {
		select {
		case <-pub.closed:
			pub.dropChannelLocked()
		default:
			return nil
		}
	}

	ch, err := pub.open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if nilcheck.Interface(ch) {
		return ErrChannelRequired
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()

		return fmt.Errorf("%w: %w", ErrConfirmModeUnavailable, err)
	}

	pub.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, confirmChannelBuffer))
	pub.closed = ch.NotifyClose(make(chan *amqp.Error, 1))
	pub.ch = ch

	return nil
}

func (pub *Publisher) dropChannelLocked() {
	if pub.ch != nil {
		_ = pub.ch.Close()
	}

	pub.ch = nil
	pub.confirms = nil
	pub.closed = nil
}

// Close closes the current channel; later publishes fail with
// ErrPublisherClosed.
func (pub *Publisher) Close() error {
	if pub == nil {
		return ErrPublisherRequired
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()

	pub.shutdown = true
	pub.dropChannelLocked()

	return nil
}

func waitForConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, closed <-chan *amqp.Error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case confirmed, ok := <-confirms:
		if !ok {
			return ErrPublisherClosed
		}

		if !confirmed.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
		}

		return nil
	case amqpErr, ok := <-closed:
		if ok && amqpErr != nil {
			return fmt.Errorf("%w: %s", ErrPublisherClosed, amqpErr.Reason)
		}

		return ErrPublisherClosed
	case <-timer.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

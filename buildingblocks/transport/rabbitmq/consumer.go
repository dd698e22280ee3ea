package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/backoff"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/consumer"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/lock"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/runtime"
)

const (
	defaultPrefetch = 16
	defaultWorkers  = 1

	defaultBusyBase = 500 * time.Millisecond
	defaultBusyMax  = 5 * time.Second
)

// ConsumeChannel is the part of *amqp.Channel the consumer uses.
type ConsumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// MessageDispatcher runs the handlers of a message. *consumer.Router
// implements it.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, msg *consumer.Message) error
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the consumer logger.
func WithConsumerLogger(logger log.Logger) ConsumerOption {
	return func(c *Consumer) {
		if !nilcheck.Interface(logger) {
			c.logger = logger
		}
	}
}

// WithPrefetch sets the channel QoS prefetch count.
func WithPrefetch(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.prefetch = n
		}
	}
}

// WithWorkers sets how many deliveries are handled concurrently.
func WithWorkers(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithConsumerTag sets the consumer tag shown by the broker.
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.tag = strings.TrimSpace(tag)
	}
}

// WithBusyBackoff sets how long a delivery whose resource is locked is held
// before it is requeued. A zero Policy requeues at once.
func WithBusyBackoff(policy backoff.Policy) ConsumerOption {
	return func(c *Consumer) {
		if policy.Base >= 0 && policy.Max >= 0 {
			c.busy = policy
		}
	}
}

// Consumer feeds deliveries of one queue to a dispatcher. A handled message
// is acked. A message whose handler reported lock contention is requeued,
// any other failure is rejected to the dead-letter exchange.
type Consumer struct {
	ch         ConsumeChannel
	queue      string
	dispatcher MessageDispatcher
	logger     log.Logger
	prefetch   int
	workers    int
	tag        string
	busy       backoff.Policy
	running    atomic.Bool
}

var _ buildingblocks.App = (*Consumer)(nil)

func NewConsumer(ch ConsumeChannel, queue string, dispatcher MessageDispatcher, opts ...ConsumerOption) (*Consumer, error) {
	if nilcheck.Interface(ch) {
		return nil, ErrChannelRequired
	}

	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, ErrQueueRequired
	}

	if nilcheck.Interface(dispatcher) {
		return nil, ErrDispatcherRequired
	}

	c := &Consumer{
		ch:         ch,
		queue:      queue,
		dispatcher: dispatcher,
		logger:     log.NewNop(),
		prefetch:   defaultPrefetch,
		workers:    defaultWorkers,
		busy:       backoff.Policy{Base: defaultBusyBase, Max: defaultBusyMax},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Run implements buildingblocks.App.
func (c *Consumer) Run(launcher *buildingblocks.Launcher) error {
	return c.RunContext(launcher.Context())
}

// RunContext consumes until ctx is done, returning nil, or until the broker
// closes the delivery channel, returning ErrDeliveriesClosed.
func (c *Consumer) RunContext(ctx context.Context) error {
	if c == nil || c.ch == nil {
		return ErrConsumerRequired
	}

	if !c.running.CompareAndSwap(false, true) {
		return ErrConsumerRunning
	}
	defer c.running.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos on %s: %w", c.queue, err)
	}

	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.logger.Log(ctx, log.LevelInfo, "rabbitmq consumer started",
		log.String("queue", c.queue),
		log.Int("workers", c.workers),
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for range c.workers {
		group.Go(func() error {
			return c.work(groupCtx, deliveries)
		})
	}

	err = group.Wait()

	c.logger.Log(context.WithoutCancel(ctx), log.LevelInfo, "rabbitmq consumer stopped", log.String("queue", c.queue))

	return err
}

func (c *Consumer) work(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}

				return ErrDeliveriesClosed
			}

			c.Handle(ctx, d)
		}
	}
}

// Handle dispatches one delivery and settles it.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	defer runtime.RecoverAndLogWithContext(ctx, c.logger, "rabbitmq", "consumer_handle")

	msg := toMessage(d)

	ctx = libOpentelemetry.ExtractTraceContextFromQueueHeaders(ctx, msg.Headers)

	_, tracer, _ := buildingblocks.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "rabbitmq.consume", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.source.name", c.queue),
		attribute.String("messaging.message.id", msg.ID),
		attribute.String("event.name", msg.Name),
		attribute.Bool("messaging.rabbitmq.redelivered", msg.Redelivered),
	)

	err := c.dispatch(ctx, msg)

	switch {
	case err == nil:
		c.settle(ctx, msg, d.Ack(false), "ack")
	case lock.IsRetryable(err):
		c.logger.Log(ctx, log.LevelDebug, "message requeued, resource busy",
			log.String("message_id", msg.ID),
			log.String("event", msg.Name),
			log.Err(err),
		)
		c.holdBusy(ctx, msg)
		c.settle(ctx, msg, d.Nack(false, true), "requeue")
	default:
		libOpentelemetry.HandleSpanError(&span, "Failed to handle message", err)
		c.logger.Log(ctx, log.LevelWarn, "message rejected to dead-letter exchange",
			log.String("message_id", msg.ID),
			log.String("event", msg.Name),
			log.Err(err),
		)
		c.settle(ctx, msg, d.Nack(false, false), "reject")
	}
}

// holdBusy waits before a busy delivery is requeued. Redeliveries wait
// longer and a done ctx ends the wait.
func (c *Consumer) holdBusy(ctx context.Context, msg *consumer.Message) {
	attempt := 0
	if msg.Redelivered {
		attempt = 1
	}

	_ = backoff.SleepWithContext(ctx, c.busy.Next(attempt))
}

func (c *Consumer) dispatch(ctx context.Context, msg *consumer.Message) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("dispatch %s panicked: %v", msg.Name, recovered)
			c.logger.Log(ctx, log.LevelError, "message dispatcher panicked", log.String("message_id", msg.ID), log.Err(err))
		}
	}()

	return c.dispatcher.Dispatch(ctx, msg)
}

func (c *Consumer) settle(ctx context.Context, msg *consumer.Message, err error, action string) {
	if err == nil || errors.Is(err, amqp.ErrClosed) && ctx.Err() != nil {
		return
	}

	c.logger.Log(ctx, log.LevelError, "failed to settle delivery",
		log.String("message_id", msg.ID),
		log.String("action", action),
		log.Err(err),
	)
}

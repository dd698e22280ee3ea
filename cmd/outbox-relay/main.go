// Command outbox-relay publishes committed outbox rows of every tenant to
// RabbitMQ, and optionally consumes integration events with lock-guarded,
// traced handlers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	goredislib "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/backoff"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/config"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/consumer"
	lockredis "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/lock/redis"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	libOpentelemetry "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/opentelemetry"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/outbox"
	outboxpg "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/outbox/postgres"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tracing"
	tracemongo "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tracing/mongo"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/transport/rabbitmq"
	libZap "github.com/e-athena/basic-building-blocks-sub002/buildingblocks/zap"
)

const (
	serviceName     = "outbox-relay"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := libZap.New(libZap.Config{Environment: cfg.EnvName, Level: cfg.LogLevel, Service: serviceName})
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := libOpentelemetry.Initialize(ctx, &libOpentelemetry.TelemetryConfig{
		LibraryName:               "github.com/e-athena/basic-building-blocks-sub002",
		ServiceName:               serviceName,
		DeploymentEnv:             cfg.EnvName,
		CollectorExporterEndpoint: cfg.OtelEndpoint,
		EnableTelemetry:           cfg.EnableTelemetry,
		Logger:                    logger,
	})
	if err != nil {
		return err
	}

	defer shutdown(logger, "telemetry", telemetry.Shutdown)

	tracer := otel.Tracer(serviceName)
	ctx = buildingblocks.ContextWithTracer(buildingblocks.ContextWithLogger(ctx, logger), tracer)

	registry, err := newRegistry(cfg, logger)
	if err != nil {
		return err
	}

	defer func() { _ = registry.Close() }()

	if err := migrateTenants(ctx, registry, logger); err != nil {
		return err
	}

	repo, err := outboxpg.NewRepository(registry, registry, outboxpg.WithLogger(logger))
	if err != nil {
		return err
	}

	conn, err := rabbitmq.Dial(cfg.RabbitMQURI)
	if err != nil {
		return err
	}

	defer func() { _ = conn.Close() }()

	topologyCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open topology channel: %w", err)
	}

	topology := rabbitmq.Topology{Exchange: cfg.OutboxExchange, Queue: cfg.ConsumerQueue, RoutingKeys: cfg.ConsumerEvents}
	if err := topology.Declare(topologyCh); err != nil {
		return err
	}

	_ = topologyCh.Close()

	publisher, err := rabbitmq.NewPublisher(rabbitmq.ChannelOpenerFor(conn), cfg.OutboxExchange,
		rabbitmq.WithPublisherLogger(logger),
	)
	if err != nil {
		return err
	}

	defer func() { _ = publisher.Close() }()

	handlers := outbox.NewHandlerRegistry()
	if err := handlers.SetDefault(publisher.Publish); err != nil {
		return err
	}

	dispatcher, err := outbox.NewDispatcher(repo, handlers, logger, tracer,
		outbox.WithConfig(cfg.DispatcherConfig()),
	)
	if err != nil {
		return err
	}

	store, closeStore, err := newTraceStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	defer closeStore()

	queue, err := tracing.NewQueue(store, tracing.WithLogger(logger))
	if err != nil {
		return err
	}

	launcher := buildingblocks.NewLauncher(
		buildingblocks.WithLogger(logger),
		buildingblocks.WithContext(ctx),
		buildingblocks.RunApp("outbox-dispatcher", dispatcher),
		buildingblocks.RunApp("trace-queue", queue),
	)

	if cfg.HTTPAddr != "" {
		admin, err := newAdminServer(cfg.HTTPAddr, store, queue, publisher, logger)
		if err != nil {
			return err
		}

		if err := launcher.Add("admin-api", admin); err != nil {
			return err
		}
	}

	if cfg.ConsumerQueue != "" {
		app, closeConsumer, err := newConsumer(cfg, conn, queue, logger)
		if err != nil {
			return err
		}

		defer closeConsumer()

		if err := launcher.Add("event-consumer", app); err != nil {
			return err
		}
	}

	return launcher.RunWithError()
}

func newRegistry(cfg config.Config, logger log.Logger) (*tenant.Registry, error) {
	mainDesc, err := cfg.MainDescriptor()
	if err != nil {
		return nil, err
	}

	lookup, err := cfg.TenantLookup()
	if err != nil {
		return nil, err
	}

	return tenant.NewRegistry(mainDesc, lookup, tenant.WithLogger(logger))
}

// migrateTenants brings the outbox schema of every independent database up
// to date.
func migrateTenants(ctx context.Context, registry *tenant.Registry, logger log.Logger) error {
	keys, err := registry.DiscoverTenants(ctx)
	if err != nil {
		return err
	}

	for _, key := range keys {
		store, err := registry.Resolve(ctx, key)
		if err != nil {
			return fmt.Errorf("resolve tenant %s: %w", key, err)
		}

		if err := outboxpg.MigrateStore(ctx, store, logger); err != nil {
			return fmt.Errorf("migrate tenant %s: %w", key, err)
		}
	}

	return nil
}

// newTraceStore persists traces in Mongo when MONGO_URI is set and in
// memory otherwise.
func newTraceStore(ctx context.Context, cfg config.Config, logger log.Logger) (tracing.Store, func(), error) {
	if cfg.MongoURI == "" {
		logger.Log(ctx, log.LevelWarn, "MONGO_URI not set, execution traces are kept in memory")

		return tracing.NewMemoryStore(), func() {}, nil
	}

	client, err := tracemongo.Connect(ctx, cfg.MongoURI, 0)
	if err != nil {
		return nil, nil, err
	}

	closeClient := func() {
		shutdown(logger, "mongo", client.Disconnect)
	}

	store, err := tracemongo.NewStore(client.Database(cfg.MongoDatabase))
	if err != nil {
		closeClient()

		return nil, nil, err
	}

	if err := store.EnsureIndexes(ctx); err != nil {
		closeClient()

		return nil, nil, err
	}

	return store, closeClient, nil
}

func newConsumer(cfg config.Config, conn *amqp.Connection, queue *tracing.Queue, logger log.Logger) (buildingblocks.App, func(), error) {
	client := goredislib.NewUniversalClient(&goredislib.UniversalOptions{Addrs: []string{cfg.RedisAddr}})

	guard, err := lockredis.NewGuard(client,
		lockredis.WithOwnerInstanceID(cfg.InstanceID),
		lockredis.WithLogger(logger),
	)
	if err != nil {
		_ = client.Close()

		return nil, nil, err
	}

	router := consumer.NewRouter(consumer.WithLogger(logger))
	router.Use(
		consumer.WithTenant(),
		tracing.Middleware(queue),
		consumer.Guard(guard, consumer.GuardTTL(cfg.LockTTL), consumer.GuardLogger(logger)),
	)

	for _, name := range cfg.ConsumerEvents {
		if err := router.Register(name, "AuditIntegrationEvent", auditEvent); err != nil {
			_ = client.Close()

			return nil, nil, err
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("open consumer channel: %w", err)
	}

	opts := []rabbitmq.ConsumerOption{
		rabbitmq.WithConsumerLogger(logger),
		rabbitmq.WithConsumerTag(serviceName + "-" + cfg.InstanceID),
	}

	if cfg.ConsumerBusyDelay > 0 {
		opts = append(opts, rabbitmq.WithBusyBackoff(backoff.Policy{Base: cfg.ConsumerBusyDelay, Max: 10 * cfg.ConsumerBusyDelay}))
	}

	app, err := rabbitmq.NewConsumer(ch, cfg.ConsumerQueue, router, opts...)
	if err != nil {
		_ = ch.Close()
		_ = client.Close()

		return nil, nil, err
	}

	return app, func() {
		_ = ch.Close()
		_ = client.Close()
	}, nil
}

func auditEvent(ctx context.Context, msg *consumer.Message) error {
	logger, _, _ := buildingblocks.NewTrackingFromContext(ctx)

	logger.Log(ctx, log.LevelInfo, "integration event received",
		log.String("event_id", msg.ID),
		log.String("event_name", msg.Name),
		log.String("tenant", tenant.Current(ctx)),
		log.String("aggregate_id", msg.AggregateID),
		log.Bool("redelivered", msg.Redelivered),
	)

	return nil
}

func shutdown(logger log.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		logger.Log(ctx, log.LevelWarn, "shutdown failed", log.String("component", name), log.Err(err))
	}
}

package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/lock"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/outbox"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
)

const (
	defaultEnvName        = "development"
	defaultOutboxExchange = "integration-events"
	defaultMongoDatabase  = "event_traces"
	defaultRedisAddr      = "localhost:6379"
)

// ErrMainTenantConnectionRequired is returned by Validate when no main
// database is configured.
var ErrMainTenantConnectionRequired = errors.New("MAIN_TENANT_CONNECTION is required")

// Config holds the relay settings.
type Config struct {
	EnvName  string `yaml:"env_name" env:"ENV_NAME"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	MainTenantConnection string `yaml:"main_tenant_connection" env:"MAIN_TENANT_CONNECTION"`
	// Tenants maps tenant codes to connection descriptors. In the
	// environment it is written "acme=shared;globex=postgres://...".
	Tenants map[string]string `yaml:"tenants" env:"TENANT_CONNECTIONS" envSeparator:";" envKeyValSeparator:"="`

	RedisAddr      string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RabbitMQURI    string `yaml:"rabbitmq_uri" env:"RABBITMQ_URI"`
	OutboxExchange string `yaml:"outbox_exchange" env:"OUTBOX_EXCHANGE"`
	ConsumerQueue  string `yaml:"consumer_queue" env:"CONSUMER_QUEUE"`
	// ConsumerEvents are the event names bound to ConsumerQueue.
	ConsumerEvents []string `yaml:"consumer_events" env:"CONSUMER_EVENTS" envSeparator:","`
	// ConsumerBusyDelay is the base wait before a delivery whose resource
	// is locked goes back to the queue.
	ConsumerBusyDelay time.Duration `yaml:"consumer_busy_delay" env:"CONSUMER_BUSY_DELAY"`
	MongoURI          string        `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase     string        `yaml:"mongo_database" env:"MONGO_DATABASE"`

	DispatchInterval    time.Duration `yaml:"dispatch_interval" env:"OUTBOX_DISPATCH_INTERVAL"`
	DispatchBatchSize   int           `yaml:"dispatch_batch_size" env:"OUTBOX_BATCH_SIZE"`
	MaxDispatchAttempts int           `yaml:"max_dispatch_attempts" env:"OUTBOX_MAX_DISPATCH_ATTEMPTS"`

	LockTTL    time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	InstanceID string        `yaml:"instance_id" env:"INSTANCE_ID"`

	// HTTPAddr serves the trace query API when set.
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR"`

	EnableTelemetry bool   `yaml:"enable_telemetry" env:"ENABLE_TELEMETRY"`
	OtelEndpoint    string `yaml:"otel_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads path when it is not empty, then applies the environment.
func Load(path string) (Config, error) {
	return load(path, nil)
}

func load(path string, environment map[string]string) (Config, error) {
	var cfg Config

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	}

	fileTenants := cfg.Tenants
	cfg.Tenants = nil

	opts := env.Options{}
	if environment != nil {
		opts.Environment = environment
	}

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Tenants = mergeTenants(fileTenants, cfg.Tenants)
	cfg.applyDefaults()

	return cfg, nil
}

func mergeTenants(file, environment map[string]string) map[string]string {
	merged := make(map[string]string, len(file)+len(environment))

	maps.Copy(merged, file)
	maps.Copy(merged, environment)

	return merged
}

func (cfg *Config) applyDefaults() {
	setString := func(v *string, fallback string) {
		if strings.TrimSpace(*v) == "" {
			*v = fallback
		}
	}

	setString(&cfg.EnvName, defaultEnvName)
	setString(&cfg.LogLevel, log.LevelInfo.String())
	setString(&cfg.OutboxExchange, defaultOutboxExchange)
	setString(&cfg.MongoDatabase, defaultMongoDatabase)
	setString(&cfg.RedisAddr, defaultRedisAddr)

	if cfg.LockTTL <= 0 {
		cfg.LockTTL = lock.DefaultTTL
	}

	if strings.TrimSpace(cfg.InstanceID) == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.InstanceID = host
		} else {
			cfg.InstanceID = "relay"
		}
	}
}

// Validate reports settings the relay cannot start without.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.MainTenantConnection) == "" {
		return ErrMainTenantConnectionRequired
	}

	if _, err := cfg.MainDescriptor(); err != nil {
		return err
	}

	if _, err := cfg.TenantLookup(); err != nil {
		return err
	}

	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return nil
}

// IsProduction reports whether EnvName is production.
func (cfg Config) IsProduction() bool {
	return strings.EqualFold(cfg.EnvName, "production")
}

// Level returns the parsed log level, info when it cannot be parsed.
func (cfg Config) Level() log.Level {
	level, _ := log.ParseLevel(cfg.LogLevel)

	return level
}

// MainDescriptor parses the main database descriptor.
func (cfg Config) MainDescriptor() (tenant.Descriptor, error) {
	return tenant.ParseDescriptor(tenant.MainKey, cfg.MainTenantConnection)
}

// TenantLookup builds the descriptor lookup of the configured tenants.
func (cfg Config) TenantLookup() (*tenant.StaticLookup, error) {
	lookup, err := tenant.NewStaticLookup(cfg.Tenants)
	if err != nil {
		return nil, fmt.Errorf("tenants: %w", err)
	}

	return lookup, nil
}

// DispatcherConfig returns the outbox dispatcher settings; unset values keep
// the dispatcher defaults.
func (cfg Config) DispatcherConfig() outbox.DispatcherConfig {
	dispatcherCfg := outbox.DefaultDispatcherConfig()

	if cfg.DispatchInterval > 0 {
		dispatcherCfg.DispatchInterval = cfg.DispatchInterval
	}

	if cfg.DispatchBatchSize > 0 {
		dispatcherCfg.BatchSize = cfg.DispatchBatchSize
	}

	if cfg.MaxDispatchAttempts > 0 {
		dispatcherCfg.MaxDispatchAttempts = cfg.MaxDispatchAttempts
	}

	return dispatcherCfg
}

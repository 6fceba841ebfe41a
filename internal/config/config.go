// Package config loads runtime configuration from STOCKMATCH_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"stockmatch/internal/domain/matching"
)

// Prefix of every environment variable.
const Prefix = "STOCKMATCH"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds runtime configuration for the server and the worker.
type Config struct {
	AppEnv  string `envconfig:"APP_ENV" default:"development" validate:"oneof=development staging production test"`
	AppName string `envconfig:"APP_NAME" default:"stockmatch"`

	HTTPPort         int           `envconfig:"HTTP_PORT" default:"8080" validate:"min=1,max=65535"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	StorageDriver    string        `envconfig:"STORAGE_DRIVER" default:"postgres" validate:"oneof=postgres memory"`
	DatabaseURL      string        `envconfig:"DATABASE_URL" validate:"required_if=StorageDriver postgres"`
	DBMaxConns       int32         `envconfig:"DB_MAX_CONNS" default:"20" validate:"min=1"`
	DBMinConns       int32         `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0,ltefield=DBMaxConns"`
	DBLockTimeout    time.Duration `envconfig:"DB_LOCK_TIMEOUT" default:"5s"`
	StatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"30s"`
	DBMaxRetries     int           `envconfig:"DB_MAX_RETRIES" default:"3" validate:"min=1,max=20"`
	DBRetryBackoff   time.Duration `envconfig:"DB_RETRY_BACKOFF" default:"20ms"`
	MigrateOnStart   bool          `envconfig:"MIGRATE_ON_START" default:"false"`

	// RedisAddr enables the remaining-quantity cache and the event stream when set.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"10m"`

	JWTSecret string `envconfig:"JWT_SECRET" validate:"required_unless=AppEnv development AppEnv test"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"stockmatch"`

	CostPrecision       int32  `envconfig:"COST_PRECISION" default:"4" validate:"min=0,max=6"`
	DefaultStrategy     string `envconfig:"DEFAULT_STRATEGY" default:"fifo" validate:"oneof=fifo fefo"`
	NegativeStockMode   string `envconfig:"NEGATIVE_STOCK_MODE" default:"forbid" validate:"oneof=forbid confirm auto"`
	NegativeStockPolicy string `envconfig:"NEGATIVE_STOCK_POLICY"`

	OutboxInterval   time.Duration `envconfig:"OUTBOX_INTERVAL" default:"2s"`
	OutboxBatchSize  int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100" validate:"min=1,max=1000"`
	OutboxMaxRetries int           `envconfig:"OUTBOX_MAX_RETRIES" default:"5" validate:"min=1"`
	OutboxRetention  time.Duration `envconfig:"OUTBOX_RETENTION" default:"168h"`
	EventStream      string        `envconfig:"EVENT_STREAM" default:"stockmatch:events"`

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

// Load reads and validates configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the negative stock policy expression.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// HTTPAddr is the listen address of the HTTP server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Engine returns the matching engine settings.
func (c *Config) Engine() matching.Config {
	cfg := matching.DefaultConfig()
	cfg.CostPrecision = c.CostPrecision
	if st, err := matching.ParseStrategy(c.DefaultStrategy); err == nil {
		cfg.DefaultStrategy = st
	}
	return cfg
}

// Policy compiles the negative stock policy.
func (c *Config) Policy() (*matching.NegativeStockPolicy, error) {
	mode, err := matching.ParseNegativeStockMode(c.NegativeStockMode)
	if err != nil {
		return nil, err
	}
	return matching.NewNegativeStockPolicy(mode, c.NegativeStockPolicy)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Idempotency backends
const (
	IdempotencyBackendMemory = "memory"
	IdempotencyBackendRedis  = "redis"
)

// Config holds application configuration. Keys are the lowercased
// environment variable names, so DATABASE_URL and database_url in the YAML
// file set the same field.
type Config struct {
	DatabaseURL      string `koanf:"database_url"`
	AutoMigrate      bool   `koanf:"auto_migrate"`
	StoreBackend     string `koanf:"store_backend"`
	ServerPort       string `koanf:"server_port"`
	FrontendURL      string `koanf:"frontend_url"`
	EnableHSTS       bool   `koanf:"enable_hsts"`
	RedisURL         string `koanf:"redis_url"`
	RabbitMQURL      string `koanf:"rabbitmq_url"`
	RabbitMQPrefetch int    `koanf:"rabbitmq_prefetch"`
	WorkerDebugMode  bool   `koanf:"worker_debug_mode"`
	ServerDebugMode  bool   `koanf:"server_debug_mode"`
	OTELEnabled      bool   `koanf:"otel_enabled"`
	OTELEndpoint     string `koanf:"otel_exporter_otlp_endpoint"`

	IdempotencyBackend  string        `koanf:"idempotency_backend"`
	IdempotencyWindow   time.Duration `koanf:"idempotency_window"`
	PropagationAttempts int           `koanf:"propagation_attempts"`
	PropagationInterval time.Duration `koanf:"propagation_interval"`
	BackgroundTimeout   time.Duration `koanf:"background_timeout"`
	WebhookRateLimit    string        `koanf:"webhook_rate_limit"`
	WebhookSecret       string        `koanf:"webhook_secret"`
}

var defaults = map[string]any{
	"auto_migrate":         true,
	"store_backend":        StoreBackendPostgres,
	"server_port":          "8080",
	"frontend_url":         "http://localhost:3000",
	"enable_hsts":          false,
	"rabbitmq_prefetch":    1,
	"idempotency_backend":  IdempotencyBackendMemory,
	"idempotency_window":   "30s",
	"propagation_attempts": 5,
	"propagation_interval": "1s",
	"background_timeout":   "30s",
	"webhook_rate_limit":   "50-S",
}

// Load loads configuration from defaults, the optional YAML file named by
// CONFIG_FILE, then environment variables, and validates the result
func Load() (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable to its config key, or "" to skip
// variables this service does not read
func envKey(name string) string {
	key := strings.ToLower(name)
	if _, known := knownKeys[key]; !known {
		return ""
	}
	return key
}

var knownKeys = func() map[string]struct{} {
	keys := map[string]struct{}{
		"database_url":                {},
		"redis_url":                   {},
		"rabbitmq_url":                {},
		"worker_debug_mode":           {},
		"server_debug_mode":           {},
		"otel_enabled":                {},
		"otel_exporter_otlp_endpoint": {},
		"webhook_secret":              {},
	}
	for key := range defaults {
		keys[key] = struct{}{}
	}
	return keys
}()

// Validate checks that the configured backends have what they need
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND is postgres"))
		}
	case StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendPostgres, StoreBackendMemory, c.StoreBackend))
	}

	switch c.IdempotencyBackend {
	case IdempotencyBackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when IDEMPOTENCY_BACKEND is redis"))
		}
	case IdempotencyBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_BACKEND must be %q or %q, got %q", IdempotencyBackendMemory, IdempotencyBackendRedis, c.IdempotencyBackend))
	}

	if c.IdempotencyWindow <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_WINDOW must be positive"))
	}
	if c.PropagationAttempts < 1 {
		errs = append(errs, errors.New("PROPAGATION_ATTEMPTS must be at least 1"))
	}
	if c.PropagationInterval < 0 {
		errs = append(errs, errors.New("PROPAGATION_INTERVAL must not be negative"))
	}
	if c.BackgroundTimeout <= 0 {
		errs = append(errs, errors.New("BACKGROUND_TIMEOUT must be positive"))
	}
	if c.RabbitMQPrefetch < 1 {
		errs = append(errs, errors.New("RABBITMQ_PREFETCH must be at least 1"))
	}

	return errors.Join(errs...)
}

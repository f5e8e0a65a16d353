package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/scheduler"
	"github.com/platinummonkey/bms/pkg/storage/archive"
	"github.com/platinummonkey/bms/pkg/storage/cache"
	"github.com/platinummonkey/bms/pkg/storage/sqlstore"
)

// DriverMemory keeps all state in process. It is meant for development only.
const DriverMemory = "memory"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      sqlstore.Config
	Redis         cache.RedisConfig
	Cache         CacheConfig
	Archive       archive.Config
	Billing       BillingConfig
	Scheduler     scheduler.Config
	Catalog       CatalogConfig
	Webhook       WebhookConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s liveness and readiness checks)
	HealthPort string

	CORSOrigins []string
}

// CacheConfig controls the plan cache in front of the store
type CacheConfig struct {
	Enabled bool
	cache.Config
}

// BillingConfig holds the engine defaults and the invoice letterhead
type BillingConfig struct {
	InvoiceDueDays  int
	DefaultCurrency string

	IssuerName    string
	IssuerAddress string
	IssuerEmail   string

	// GatewaySecret enables the payment provider callback route
	GatewaySecret string
}

// CatalogConfig points at an optional declarative plan file
type CatalogConfig struct {
	Path     string
	Debounce time.Duration
}

// WebhookConfig registers one endpoint at startup. More can be added
// through the API.
type WebhookConfig struct {
	URL    string
	Secret string
	Events []billing.EventType
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Archive:       loadArchiveConfig(),
		Billing:       loadBillingConfig(),
		Scheduler:     loadSchedulerConfig(),
		Catalog:       loadCatalogConfig(),
		Webhook:       loadWebhookConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BMS_HOST", "0.0.0.0"),
		Port:            getEnv("BMS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BMS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BMS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("BMS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BMS_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("BMS_HEALTH_PORT", "9090"),
		CORSOrigins:     getEnvList("BMS_CORS_ORIGINS"),
	}
}

func loadDatabaseConfig() sqlstore.Config {
	return sqlstore.Config{
		Driver:      getEnv("BMS_DB_DRIVER", "postgres"),
		DSN:         getEnv("BMS_DB_DSN", ""),
		MaxConns:    getEnvInt("BMS_DB_MAX_CONNS", 20),
		MinConns:    getEnvInt("BMS_DB_MIN_CONNS", 5),
		Timeout:     getEnvDuration("BMS_DB_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("BMS_DB_MAX_LIFETIME", time.Hour),
		MaxIdleTime: getEnvDuration("BMS_DB_MAX_IDLE_TIME", 10*time.Minute),
	}
}

func loadRedisConfig() cache.RedisConfig {
	return cache.RedisConfig{
		URL:        getEnv("BMS_REDIS_URL", ""),
		Password:   getEnv("BMS_REDIS_PASSWORD", ""),
		DB:         getEnvInt("BMS_REDIS_DB", 0),
		MaxRetries: getEnvInt("BMS_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("BMS_REDIS_POOL_SIZE", 10),
	}
}

func loadCacheConfig() CacheConfig {
	defaults := cache.DefaultConfig()
	return CacheConfig{
		Enabled: getEnvBool("BMS_CACHE_ENABLED", true),
		Config: cache.Config{
			Size:      getEnvInt("BMS_CACHE_SIZE", defaults.Size),
			TTL:       getEnvDuration("BMS_CACHE_TTL", defaults.TTL),
			RedisTTL:  getEnvDuration("BMS_CACHE_REDIS_TTL", defaults.RedisTTL),
			KeyPrefix: getEnv("BMS_CACHE_KEY_PREFIX", defaults.KeyPrefix),
		},
	}
}

func loadArchiveConfig() archive.Config {
	return archive.Config{
		Type:           getEnv("BMS_ARCHIVE_TYPE", "none"),
		FilesystemRoot: getEnv("BMS_ARCHIVE_ROOT", ""),
		S3Endpoint:     getEnv("BMS_S3_ENDPOINT", ""),
		S3Region:       getEnv("BMS_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("BMS_S3_BUCKET", ""),
		S3Prefix:       getEnv("BMS_S3_PREFIX", "invoices/"),
		S3AccessKey:    getEnv("BMS_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("BMS_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("BMS_S3_USE_PATH_STYLE", false),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		InvoiceDueDays:  getEnvInt("BMS_INVOICE_DUE_DAYS", 0),
		DefaultCurrency: strings.ToUpper(getEnv("BMS_DEFAULT_CURRENCY", "USD")),
		IssuerName:      getEnv("BMS_ISSUER_NAME", ""),
		IssuerAddress:   getEnv("BMS_ISSUER_ADDRESS", ""),
		IssuerEmail:     getEnv("BMS_ISSUER_EMAIL", ""),
		GatewaySecret:   getEnv("BMS_GATEWAY_SECRET", ""),
	}
}

func loadSchedulerConfig() scheduler.Config {
	defaults := scheduler.DefaultConfig()
	return scheduler.Config{
		SubscriptionSchedule: getEnv("BMS_SUBSCRIPTION_SWEEP_SCHEDULE", defaults.SubscriptionSchedule),
		InvoiceSchedule:      getEnv("BMS_INVOICE_SWEEP_SCHEDULE", defaults.InvoiceSchedule),
		Timeout:              getEnvDuration("BMS_SWEEP_TIMEOUT", defaults.Timeout),
		LockTTL:              getEnvDuration("BMS_SWEEP_LOCK_TTL", defaults.LockTTL),
	}
}

func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Path:     getEnv("BMS_CATALOG_FILE", ""),
		Debounce: getEnvDuration("BMS_CATALOG_DEBOUNCE", 500*time.Millisecond),
	}
}

func loadWebhookConfig() WebhookConfig {
	cfg := WebhookConfig{
		URL:    getEnv("BMS_WEBHOOK_URL", ""),
		Secret: getEnv("BMS_WEBHOOK_SECRET", ""),
	}
	for _, e := range getEnvList("BMS_WEBHOOK_EVENTS") {
		cfg.Events = append(cfg.Events, billing.EventType(e))
	}
	return cfg
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv("BMS_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("BMS_LOG_FORMAT", "json")),
		MetricsEnabled:     getEnvBool("BMS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BMS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BMS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BMS_OTEL_SERVICE_NAME", "bms"),
		OTelServiceVersion: getEnv("BMS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BMS_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("BMS_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case DriverMemory:
	case "postgres", "sqlite3":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres, sqlite3, or memory)", c.Database.Driver)
	}

	switch c.Archive.Type {
	case "", "none":
	case "filesystem":
		if c.Archive.FilesystemRoot == "" {
			return fmt.Errorf("archive root is required for filesystem archive")
		}
	case "s3":
		if c.Archive.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 archive")
		}
	default:
		return fmt.Errorf("invalid archive type: %s (must be none, filesystem, or s3)", c.Archive.Type)
	}

	if c.Billing.InvoiceDueDays < 0 {
		return fmt.Errorf("invoice due days must not be negative")
	}
	if len(c.Billing.DefaultCurrency) != 3 {
		return fmt.Errorf("default currency must be a 3-letter code: %q", c.Billing.DefaultCurrency)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if c.Webhook.URL != "" && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required when a webhook URL is set")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

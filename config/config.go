package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DatabaseDriverMySQL  = "mysql"
	DatabaseDriverSQLite = "sqlite"

	RateCacheSQL    = "sql"
	RateCacheRedis  = "redis"
	RateCacheMemory = "memory"

	// MaxRateJitter bounds the relative swing applied to reference rates.
	MaxRateJitter = 0.02
)

type Config struct {
	App           AppConfig
	HTTP          ServerConfig
	GRPC          ServerConfig
	Database      DatabaseConfig
	Log           LogConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Rates         RatesConfig
	Webhooks      WebhooksConfig
	Orchestration OrchestrationConfig
	Jobs          JobsConfig
	Catalog       *Catalog
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type RatesConfig struct {
	TTL          time.Duration
	Jitter       float64
	ProviderName string
	CacheDriver  string
	Seed         int64
}

type WebhooksConfig struct {
	SigningSecret     string
	MaxRetries        int
	Backoff           []time.Duration
	HTTPTimeout       time.Duration
	DispatchBatchSize int32
}

type OrchestrationConfig struct {
	PollInterval         time.Duration
	OnrampTimeout        time.Duration
	OfframpTimeout       time.Duration
	StepMaxRetries       int
	StepRetryInterval    time.Duration
	DefaultPaymentMethod string
	PendingTimeout       time.Duration
	JobBatchSize         int32
	ProviderSeed         int64
	ProviderSecret       string
	CallbackTolerance    time.Duration
}

type JobsConfig struct {
	ResumeInterval          time.Duration
	WebhookDispatchInterval time.Duration
	ExpireStaleInterval     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		return nil, errors.New("DATABASE_DSN environment variable is required")
	}

	driver := strings.ToLower(getEnv("DATABASE_DRIVER", DatabaseDriverMySQL))
	if driver != DatabaseDriverMySQL && driver != DatabaseDriverSQLite {
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}

	cacheDriver := strings.ToLower(getEnv("RATES_CACHE_DRIVER", RateCacheSQL))
	switch cacheDriver {
	case RateCacheSQL, RateCacheRedis, RateCacheMemory:
	default:
		return nil, fmt.Errorf("unsupported RATES_CACHE_DRIVER %q", cacheDriver)
	}

	jitter := getFloatEnv("RATES_JITTER", MaxRateJitter)
	if jitter < 0 || jitter > MaxRateJitter {
		return nil, fmt.Errorf("RATES_JITTER must be between 0 and %g, got %g", MaxRateJitter, jitter)
	}

	catalog, err := LoadCatalog(getEnv("CATALOG_PATH", ""))
	if err != nil {
		return nil, err
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "remittance-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		Database: DatabaseConfig{
			Driver:          driver,
			DSN:             dsn,
			MaxOpenConns:    getIntEnv("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("DATABASE_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getIntEnv("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "remittance:rates:"),
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_PAYMENT_EVENTS_TOPIC", "payment-events"),
		},
		Rates: RatesConfig{
			TTL:          getMinutesEnv("RATES_TTL_MINUTES", 15*time.Minute),
			Jitter:       jitter,
			ProviderName: getEnv("RATES_PROVIDER_NAME", "reference-table"),
			CacheDriver:  cacheDriver,
			Seed:         int64(getIntEnv("RATES_SEED", 0)),
		},
		Webhooks: WebhooksConfig{
			SigningSecret:     getEnv("WEBHOOK_SIGNING_SECRET", ""),
			MaxRetries:        getIntEnv("WEBHOOK_MAX_RETRIES", 3),
			Backoff:           getSecondsListEnv("WEBHOOK_BACKOFF_SECONDS", []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second}),
			HTTPTimeout:       getSecondsEnv("WEBHOOK_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			DispatchBatchSize: int32(getIntEnv("WEBHOOK_DISPATCH_BATCH_SIZE", 100)),
		},
		Orchestration: OrchestrationConfig{
			PollInterval:         getSecondsEnv("ORCHESTRATION_POLL_INTERVAL_SECONDS", 5*time.Second),
			OnrampTimeout:        getMinutesEnv("ORCHESTRATION_ONRAMP_TIMEOUT_MINUTES", 30*time.Minute),
			OfframpTimeout:       getMinutesEnv("ORCHESTRATION_OFFRAMP_TIMEOUT_MINUTES", 120*time.Minute),
			StepMaxRetries:       getIntEnv("ORCHESTRATION_STEP_MAX_RETRIES", 3),
			StepRetryInterval:    getSecondsEnv("ORCHESTRATION_STEP_RETRY_INTERVAL_SECONDS", time.Second),
			DefaultPaymentMethod: getEnv("ORCHESTRATION_DEFAULT_PAYMENT_METHOD", "bank_transfer"),
			PendingTimeout:       getMinutesEnv("ORCHESTRATION_PENDING_TIMEOUT_MINUTES", 60*time.Minute),
			JobBatchSize:         int32(getIntEnv("ORCHESTRATION_JOB_BATCH_SIZE", 100)),
			ProviderSeed:         int64(getIntEnv("PROVIDERS_SEED", 0)),
			ProviderSecret:       getEnv("PROVIDERS_CALLBACK_SECRET", ""),
			CallbackTolerance:    getSecondsEnv("PROVIDERS_CALLBACK_TOLERANCE_SECONDS", 5*time.Minute),
		},
		Jobs: JobsConfig{
			ResumeInterval:          getMinutesEnv("JOBS_RESUME_INTERVAL_MINUTES", time.Minute),
			WebhookDispatchInterval: getSecondsEnv("JOBS_WEBHOOK_DISPATCH_INTERVAL_SECONDS", 5*time.Second),
			ExpireStaleInterval:     getMinutesEnv("JOBS_EXPIRE_STALE_INTERVAL_MINUTES", 5*time.Minute),
		},
		Catalog: catalog,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	items := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func getSecondsListEnv(key string, defaultValue []time.Duration) []time.Duration {
	parts := getListEnv(key)
	if len(parts) == 0 {
		return defaultValue
	}
	items := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		seconds, err := strconv.Atoi(part)
		if err != nil || seconds < 0 {
			return defaultValue
		}
		items = append(items, time.Duration(seconds)*time.Second)
	}
	return items
}

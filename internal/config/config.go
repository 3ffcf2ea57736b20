package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort        string
	LogLevel        string
	JWTSecret       []byte
	AdminTokenTTL   time.Duration
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	Ledger     LedgerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Generation GenerationConfig
	Payment    PaymentConfig
	RateLimit  RateLimitConfig
	History    HistoryConfig
}

// LedgerConfig selects where ledger entries live
type LedgerConfig struct {
	Backend         string
	RedisPrefix     string
	RefundOnFailure bool
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings. An empty Address disables Redis.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// GenerationConfig holds flowchart generator settings
type GenerationConfig struct {
	Provider     string
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	Timeout      time.Duration
}

// PaymentConfig holds Stripe settings. Payments are disabled without a secret key.
type PaymentConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	CreditPrice         string
	MaxQuantity         int64
	EventCacheSize      int
	EventCacheTTL       time.Duration
}

// Enabled reports whether Stripe is configured
func (p PaymentConfig) Enabled() bool {
	return p.StripeSecretKey != ""
}

// RateLimitConfig holds per-user generation limits
type RateLimitConfig struct {
	RequestsPerMinute int
}

// HistoryConfig controls the generation history queue
type HistoryConfig struct {
	Enabled      bool
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(getEnvString("GENERATION_PROVIDER", "openai"))

	cfg := &Config{
		HTTPPort:        getEnvString("PORT", getEnvString("HTTP_PORT", "8080")),
		LogLevel:        getEnvString("LOG_LEVEL", "info"),
		JWTSecret:       []byte(os.Getenv("JWT_SECRET")),
		AdminTokenTTL:   getEnvDuration("ADMIN_TOKEN_TTL", 24*time.Hour),
		CORSOrigins:     getEnvList("CORS_ORIGINS"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Ledger: LedgerConfig{
			Backend:         strings.ToLower(getEnvString("LEDGER_BACKEND", BackendMemory)),
			RedisPrefix:     getEnvString("LEDGER_REDIS_PREFIX", "ledger:user:"),
			RefundOnFailure: getEnvBool("REFUND_ON_FAILURE", true),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      os.Getenv("REDIS_ADDRESS"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Generation: GenerationConfig{
			Provider:     provider,
			APIKey:       providerAPIKey(provider),
			Model:        os.Getenv("GENERATION_MODEL"),
			BaseURL:      os.Getenv("GENERATION_BASE_URL"),
			SystemPrompt: os.Getenv("GENERATION_SYSTEM_PROMPT"),
			Timeout:      getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
		},
		Payment: PaymentConfig{
			StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Currency:            getEnvString("CURRENCY", "usd"),
			CreditPrice:         getEnvString("CREDIT_PRICE_USD", "2.99"),
			MaxQuantity:         getEnvInt64("MAX_CREDITS_PER_PURCHASE", 100),
			EventCacheSize:      getEnvInt("PAYMENT_EVENT_CACHE_SIZE", 10000),
			EventCacheTTL:       getEnvDuration("PAYMENT_EVENT_CACHE_TTL", 72*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		},
		History: HistoryConfig{
			Enabled:      getEnvBool("HISTORY_ENABLED", true),
			BatchSize:    getEnvInt("HISTORY_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("HISTORY_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("HISTORY_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("HISTORY_RETRY_BACKOFF", 1*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings required by the selected backends are present
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when LEDGER_BACKEND=%s", BackendRedis)
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}

	switch c.Generation.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.Generation.Provider)
	}
	if c.Generation.APIKey == "" {
		return fmt.Errorf("an API key is required for generation provider %q", c.Generation.Provider)
	}

	if c.Payment.Enabled() && c.Payment.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	if c.RateLimit.RequestsPerMinute > 0 && c.Redis.Address == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when RATE_LIMIT_PER_MINUTE is set")
	}

	return nil
}

// AdminEnabled reports whether admin tokens can be verified
func (c *Config) AdminEnabled() bool {
	return len(c.JWTSecret) > 0
}

func providerAPIKey(provider string) string {
	switch provider {
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: usage log persistence. Nil disables it.
	Models        []ModelConfig
	Breaker       BreakerConfig
	Retry         RetryConfig
	Router        RouterConfig
	Scheduler     SchedulerConfig
	Quota         QuotaConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration for the usage log.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence
// over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ModelConfig holds the static configuration of one backend model
type ModelConfig struct {
	ID           string
	Name         string
	ProviderKind string
	Priority     int
	QuotaLimit   int64
	MaxTokens    int
	CostPerToken float64
	WarningPct   float64
	CriticalPct  float64
}

// BreakerConfig holds circuit breaker tuning
type BreakerConfig struct {
	FailureThreshold  int
	SuccessThreshold  int
	Timeout           time.Duration
	MinTimeout        time.Duration
	MaxTimeout        time.Duration
	TimeoutMultiplier float64
	AdaptiveTimeout   bool
	HalfOpenMaxProbes int
}

// RetryConfig holds retry executor tuning
type RetryConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterRatio       float64
}

// RouterConfig holds request router tuning
type RouterConfig struct {
	AttemptTimeout time.Duration
}

// SchedulerConfig holds quota reset and cleanup scheduling
type SchedulerConfig struct {
	QuotaResetSchedule string
	CleanupInterval    time.Duration
	UsageRetention     time.Duration
}

// QuotaConfig holds default quota alert thresholds, applied to models
// without per-model overrides
type QuotaConfig struct {
	WarningPct  float64
	CriticalPct float64
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// defaultModelIDs is used when the MODELS env var is unset
const defaultModelIDs = "gpt-4o,claude-3-5-sonnet,llama-3-8b"

// defaultProviderKinds maps well-known model prefixes to providers so a
// bare MODELS list works without per-model overrides
var defaultProviderKinds = []struct {
	prefix string
	kind   string
}{
	{"gpt", "openai"},
	{"o1", "openai"},
	{"claude", "anthropic"},
	{"llama", "selfhosted"},
	{"mistral", "selfhosted"},
}

// New creates a Config by loading environment variables
func New() (*Config, error) {
	// Load .env if present; real environments set variables directly
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Breaker: BreakerConfig{
			FailureThreshold:  getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold:  getEnvAsInt("BREAKER_SUCCESS_THRESHOLD", 2),
			Timeout:           getEnvAsDuration("BREAKER_TIMEOUT", 30*time.Second),
			MinTimeout:        getEnvAsDuration("BREAKER_MIN_TIMEOUT", 10*time.Second),
			MaxTimeout:        getEnvAsDuration("BREAKER_MAX_TIMEOUT", 5*time.Minute),
			TimeoutMultiplier: getEnvAsFloat("BREAKER_TIMEOUT_MULTIPLIER", 2.0),
			AdaptiveTimeout:   getEnvAsBool("BREAKER_ADAPTIVE_TIMEOUT", true),
			HalfOpenMaxProbes: getEnvAsInt("BREAKER_HALF_OPEN_MAX_PROBES", 3),
		},
		Retry: RetryConfig{
			MaxAttempts:       getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:         getEnvAsDuration("RETRY_BASE_DELAY", 200*time.Millisecond),
			MaxDelay:          getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Second),
			BackoffMultiplier: getEnvAsFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
			JitterRatio:       getEnvAsFloat("RETRY_JITTER_RATIO", 0.2),
		},
		Router: RouterConfig{
			AttemptTimeout: getEnvAsDuration("ROUTER_ATTEMPT_TIMEOUT", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			QuotaResetSchedule: getEnv("QUOTA_RESET_SCHEDULE", "@hourly"),
			CleanupInterval:    getEnvAsDuration("USAGE_CLEANUP_INTERVAL", 24*time.Hour),
			UsageRetention:     getEnvAsDuration("USAGE_RETENTION", 30*24*time.Hour),
		},
		Quota: QuotaConfig{
			WarningPct:  getEnvAsFloat("QUOTA_WARNING_PCT", 80),
			CriticalPct: getEnvAsFloat("QUOTA_CRITICAL_PCT", 95),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	cfg.Models = loadModelConfigs(cfg.Quota)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadModelConfigs builds the model catalog from the MODELS env var and
// per-model overrides keyed by the upcased, sanitized model id
// (e.g. MODEL_GPT_4O_PRIORITY)
func loadModelConfigs(quota QuotaConfig) []ModelConfig {
	ids := strings.Split(getEnv("MODELS", defaultModelIDs), ",")

	configs := make([]ModelConfig, 0, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		key := envKeyForModel(id)

		configs = append(configs, ModelConfig{
			ID:           id,
			Name:         getEnv(key+"_NAME", id),
			ProviderKind: getEnv(key+"_PROVIDER", guessProviderKind(id)),
			Priority:     getEnvAsInt(key+"_PRIORITY", i+1),
			QuotaLimit:   int64(getEnvAsInt(key+"_QUOTA_LIMIT", 1_000_000)),
			MaxTokens:    getEnvAsInt(key+"_MAX_TOKENS", 4096),
			CostPerToken: getEnvAsFloat(key+"_COST_PER_TOKEN", 0.00001),
			WarningPct:   getEnvAsFloat(key+"_WARNING_PCT", quota.WarningPct),
			CriticalPct:  getEnvAsFloat(key+"_CRITICAL_PCT", quota.CriticalPct),
		})
	}
	return configs
}

// envKeyForModel converts a model id to its env var prefix
func envKeyForModel(id string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
	return "MODEL_" + strings.ToUpper(sanitized)
}

// guessProviderKind maps a model id to a provider via known prefixes
func guessProviderKind(id string) string {
	lower := strings.ToLower(id)
	for _, entry := range defaultProviderKinds {
		if strings.HasPrefix(lower, entry.prefix) {
			return entry.kind
		}
	}
	return "openai"
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}

	seen := make(map[string]bool)
	for _, m := range c.Models {
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true

		if m.Priority <= 0 {
			return fmt.Errorf("model %q: priority must be positive", m.ID)
		}
		if m.WarningPct <= 0 || m.CriticalPct <= m.WarningPct || m.CriticalPct > 100 {
			return fmt.Errorf("model %q: thresholds must satisfy 0 < warning < critical <= 100", m.ID)
		}
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.Breaker.MinTimeout > c.Breaker.MaxTimeout {
		return fmt.Errorf("breaker min timeout must not exceed max timeout")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true when running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe connection description for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads usage-log database config. Returns nil when no
// database is configured; usage persistence is then disabled.
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "router"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "usage"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

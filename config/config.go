package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey    string
	PubNubSubscribeKey  string
	PubNubSecretKey     string
	PubNubUserID        string
	PubNubIntentChannel string

	// Reservation configuration
	HoldTTL      time.Duration
	MaxHoldTTL   time.Duration
	MaxBatchSize int

	// Sweeper and reconciliation
	SweepInterval  time.Duration
	SweepBatchSize int
	ReconcileGrace time.Duration

	// Intake
	IntentMaxAge time.Duration

	// Security
	RateLimitPerMinute int

	// Monitoring
	EnableMetrics   bool
	MetricsPort     string
	MetricsInterval time.Duration
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:    getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey:  getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:     getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:        getEnv("PUBNUB_USER_ID", "ticket-inventory"),
		PubNubIntentChannel: getEnv("PUBNUB_INTENT_CHANNEL", "purchase-intents"),

		// Reservation
		HoldTTL:      getEnvAsDuration("HOLD_TTL", "20m"),
		MaxHoldTTL:   getEnvAsDuration("MAX_HOLD_TTL", "1h"),
		MaxBatchSize: getEnvAsInt("MAX_BATCH_SIZE", 500),

		// Sweeper
		SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", "2m"),
		SweepBatchSize: getEnvAsInt("SWEEP_BATCH_SIZE", 500),
		ReconcileGrace: getEnvAsDuration("RECONCILE_GRACE", "10m"),

		// Intake
		IntentMaxAge: getEnvAsDuration("INTENT_MAX_AGE", "30s"),

		// Security
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),

		// Monitoring
		EnableMetrics:   getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsInterval: getEnvAsDuration("METRICS_INTERVAL", "30s"),
	}
}

// PubNubEnabled reports whether enough keys are set to talk to PubNub.
func (c *Config) PubNubEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

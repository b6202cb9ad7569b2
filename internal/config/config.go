package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	// Webhook handling
	WebhookAllowUnverified bool
	WebhookVerifyToken     string

	// Identity normalization
	DefaultCountryCode string

	// Token encryption for stored provider credentials
	TokenEncryptionKey string

	// Outbound delivery
	SendMaxAttempts  int
	SendBaseDelay    time.Duration
	SendRatePerSec   float64
	SendBurst        int
	RetryInterval    time.Duration
	OutboxInterval   time.Duration
	GraphAPIBaseURL  string
	GraphAPITimeout  time.Duration
	GraphAPIRetries  int

	// Worker pool
	WorkerCount    int
	UseMemoryQueue bool

	// Read API auth
	APIJWTSecret  string
	APIRatePerSec float64
	APIRateBurst  int

	// AWS / SQS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	DeliveryQueueURL    string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		WebhookAllowUnverified: getEnvAsBool("WEBHOOK_ALLOW_UNVERIFIED", false),
		WebhookVerifyToken:     getEnv("WEBHOOK_VERIFY_TOKEN", ""),

		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "55"),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),

		SendMaxAttempts: getEnvAsInt("SEND_MAX_ATTEMPTS", 3),
		SendBaseDelay:   getEnvAsDuration("SEND_BASE_DELAY", 5*time.Second),
		SendRatePerSec:  getEnvAsFloat("SEND_RATE_PER_SEC", 10),
		SendBurst:       getEnvAsInt("SEND_BURST", 20),
		RetryInterval:   getEnvAsDuration("RETRY_INTERVAL", 30*time.Second),
		OutboxInterval:  getEnvAsDuration("OUTBOX_INTERVAL", 5*time.Second),
		GraphAPIBaseURL: getEnv("GRAPH_API_BASE_URL", ""),
		GraphAPITimeout: getEnvAsDuration("GRAPH_API_TIMEOUT", 10*time.Second),
		GraphAPIRetries: getEnvAsInt("GRAPH_API_RETRIES", 2),

		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),

		APIJWTSecret:  getEnv("API_JWT_SECRET", ""),
		APIRatePerSec: getEnvAsFloat("API_RATE_PER_SEC", 20),
		APIRateBurst:  getEnvAsInt("API_RATE_BURST", 40),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		DeliveryQueueURL:    getEnv("DELIVERY_QUEUE_URL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

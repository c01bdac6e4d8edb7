// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the process configuration
type Config struct {
	// HTTP server port
	Port string

	// Practice the engine serves
	PracticeID string

	// Practice analytics API
	AnalyticsURL    string
	AnalyticsAPIKey string
	RequestTimeout  time.Duration

	// Change feed
	NATSURL           string
	ChangeTopicPrefix string
	ChangeStream      string

	// Directory of the insight store; empty keeps it in memory
	DataDir    string
	HistoryTTL time.Duration

	InsightPollInterval time.Duration

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Insight export
	WebhookURL     string
	WebhookAPIKey  string
	ExportInterval time.Duration
	ExportBatch    int
	SigningKey     string

	// API rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Optional YAML file with rule parameters
	RulesConfig string

	LogFormat string
	LogLevel  string
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:                GetEnvOrDefault("PORT", "8080"),
		PracticeID:          GetEnvOrDefault("PRACTICE_ID", ""),
		AnalyticsURL:        strings.TrimRight(GetEnvOrDefault("ANALYTICS_URL", "http://localhost:9000"), "/"),
		AnalyticsAPIKey:     GetEnvOrDefault("ANALYTICS_API_KEY", ""),
		RequestTimeout:      GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		NATSURL:             GetEnvOrDefault("NATS_URL", "nats://127.0.0.1:4222"),
		ChangeTopicPrefix:   GetEnvOrDefault("CHANGE_TOPIC_PREFIX", "practice.changes"),
		ChangeStream:        GetEnvOrDefault("CHANGE_STREAM", "PRACTICE_CHANGES"),
		DataDir:             GetEnvOrDefault("DATA_DIR", ""),
		HistoryTTL:          GetEnvAsDuration("HISTORY_TTL", 90*24*time.Hour),
		InsightPollInterval: GetEnvAsDuration("INSIGHT_POLL_INTERVAL", time.Minute),
		OtelEndpoint:        GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		WebhookURL:          GetEnvOrDefault("WEBHOOK_URL", ""),
		WebhookAPIKey:       GetEnvOrDefault("WEBHOOK_API_KEY", ""),
		ExportInterval:      GetEnvAsDuration("EXPORT_INTERVAL", 30*time.Second),
		ExportBatch:         GetEnvAsInt("EXPORT_BATCH_SIZE", 50),
		SigningKey:          GetEnvOrDefault("SIGNING_KEY", ""),
		RateLimitRPS:        GetEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      GetEnvAsInt("RATE_LIMIT_BURST", 40),
		RulesConfig:         GetEnvOrDefault("RULES_CONFIG", ""),
		LogFormat:           strings.ToLower(GetEnvOrDefault("LOG_FORMAT", "text")),
		LogLevel:            strings.ToLower(GetEnvOrDefault("LOG_LEVEL", "info")),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package api

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the API configuration
type Config struct {
	// Server configuration
	Host        string
	Port        int
	ServiceName string

	// API configuration
	APIKey          string
	RequestTimeout  int
	ShutdownTimeout int
	RateLimit       int // requests per minute per client IP, 0 disables

	// Kafka mirror of accepted commands
	KafkaMirror    bool
	MirrorQueue    int
	MirrorWorkers  int
	MirrorMaxRetry int

	// EnrichUserAgent stores parsed User-Agent fields with every command
	EnrichUserAgent bool

	// Telemetry configuration
	TelemetryEnabled bool
	MetricsPath      string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	requestTimeout, err := strconv.Atoi(getEnvOrDefault("REQUEST_TIMEOUT", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := strconv.Atoi(getEnvOrDefault("SHUTDOWN_TIMEOUT", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	rateLimit, err := strconv.Atoi(getEnvOrDefault("RATE_LIMIT", "600"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT: %w", err)
	}

	mirrorQueue, err := strconv.Atoi(getEnvOrDefault("MIRROR_QUEUE_SIZE", "10000"))
	if err != nil {
		return nil, fmt.Errorf("invalid MIRROR_QUEUE_SIZE: %w", err)
	}

	mirrorWorkers, err := strconv.Atoi(getEnvOrDefault("MIRROR_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid MIRROR_WORKERS: %w", err)
	}

	mirrorMaxRetry, err := strconv.Atoi(getEnvOrDefault("MIRROR_MAX_RETRY", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MIRROR_MAX_RETRY: %w", err)
	}

	return &Config{
		Host:             getEnvOrDefault("HOST", "0.0.0.0"),
		Port:             port,
		ServiceName:      getEnvOrDefault("SERVICE_NAME", "countly-nest-api"),
		APIKey:           os.Getenv("API_KEY"),
		RequestTimeout:   requestTimeout,
		ShutdownTimeout:  shutdownTimeout,
		RateLimit:        rateLimit,
		KafkaMirror:      getEnvOrDefault("KAFKA_MIRROR", "false") == "true",
		MirrorQueue:      mirrorQueue,
		MirrorWorkers:    mirrorWorkers,
		MirrorMaxRetry:   mirrorMaxRetry,
		EnrichUserAgent:  getEnvOrDefault("ENRICH_USER_AGENT", "true") == "true",
		TelemetryEnabled: getEnvOrDefault("TELEMETRY_ENABLED", "true") == "true",
		MetricsPath:      getEnvOrDefault("METRICS_PATH", "/metrics"),
	}, nil
}

// Address returns the listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

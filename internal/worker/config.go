package worker

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds worker configuration
type Config struct {
	// Worker identification
	WorkerID    string
	WorkerName  string
	ServiceName string

	// Processing settings
	BatchSize     int
	BatchTimeout  time.Duration
	FlushTimeout  time.Duration
	MaxDeliveries int

	// Archival; disabled when ArchiveAfter is zero
	ArchiveAfter     time.Duration
	ArchiveInterval  time.Duration
	ArchiveBatchSize int
	RetainArchived   time.Duration

	// Monitoring
	MetricsInterval time.Duration
	HealthCheckPort int
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() (*Config, error) {
	batchSize, err := strconv.Atoi(getEnvOrDefault("WORKER_BATCH_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_BATCH_SIZE: %w", err)
	}

	batchTimeout, err := time.ParseDuration(getEnvOrDefault("WORKER_BATCH_TIMEOUT", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_BATCH_TIMEOUT: %w", err)
	}

	flushTimeout, err := time.ParseDuration(getEnvOrDefault("WORKER_FLUSH_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_FLUSH_TIMEOUT: %w", err)
	}

	maxDeliveries, err := strconv.Atoi(getEnvOrDefault("NATS_CONSUMER_MAX_DELIVER", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_CONSUMER_MAX_DELIVER: %w", err)
	}

	archiveAfter, err := time.ParseDuration(getEnvOrDefault("ARCHIVE_AFTER", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARCHIVE_AFTER: %w", err)
	}

	archiveInterval, err := time.ParseDuration(getEnvOrDefault("ARCHIVE_INTERVAL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARCHIVE_INTERVAL: %w", err)
	}

	archiveBatchSize, err := strconv.Atoi(getEnvOrDefault("ARCHIVE_BATCH_SIZE", "5000"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARCHIVE_BATCH_SIZE: %w", err)
	}

	retainArchived, err := time.ParseDuration(getEnvOrDefault("ARCHIVE_RETAIN", "0s"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARCHIVE_RETAIN: %w", err)
	}

	metricsInterval, err := time.ParseDuration(getEnvOrDefault("WORKER_METRICS_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_METRICS_INTERVAL: %w", err)
	}

	healthCheckPort, err := strconv.Atoi(getEnvOrDefault("WORKER_HEALTH_PORT", "8081"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_HEALTH_PORT: %w", err)
	}

	workerID := getEnvOrDefault("WORKER_ID", generateWorkerID())

	return &Config{
		WorkerID:         workerID,
		WorkerName:       getEnvOrDefault("WORKER_NAME", "countly-worker-"+workerID),
		ServiceName:      getEnvOrDefault("DD_SERVICE", "countly-nest-worker"),
		BatchSize:        batchSize,
		BatchTimeout:     batchTimeout,
		FlushTimeout:     flushTimeout,
		MaxDeliveries:    maxDeliveries,
		ArchiveAfter:     archiveAfter,
		ArchiveInterval:  archiveInterval,
		ArchiveBatchSize: archiveBatchSize,
		RetainArchived:   retainArchived,
		MetricsInterval:  metricsInterval,
		HealthCheckPort:  healthCheckPort,
	}, nil
}

// ArchivalEnabled reports whether journaled rows are shipped to storage
func (c *Config) ArchivalEnabled() bool {
	return c.ArchiveAfter > 0
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func generateWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

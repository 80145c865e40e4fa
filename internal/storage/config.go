package storage

import "os"

// Config contains configuration for the S3 compatible archive bucket
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	PathPrefix     string
	ForcePathStyle bool
}

// NewConfigFromEnv reads ARCHIVE_* variables. Archival is disabled when
// ARCHIVE_BUCKET is unset.
func NewConfigFromEnv() *Config {
	return &Config{
		Endpoint:       os.Getenv("ARCHIVE_ENDPOINT"),
		Region:         getEnvOrDefault("ARCHIVE_REGION", "us-east-1"),
		Bucket:         os.Getenv("ARCHIVE_BUCKET"),
		AccessKey:      os.Getenv("ARCHIVE_ACCESS_KEY"),
		SecretKey:      os.Getenv("ARCHIVE_SECRET_KEY"),
		PathPrefix:     getEnvOrDefault("ARCHIVE_PATH_PREFIX", DefaultPathPrefix),
		ForcePathStyle: os.Getenv("ARCHIVE_FORCE_PATH_STYLE") == "true",
	}
}

// Enabled reports whether a bucket is configured
func (c *Config) Enabled() bool {
	return c.Bucket != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

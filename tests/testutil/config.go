package testutil

import (
	"time"

	"github.com/birbparty/countly-nest/internal/cache"
	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/internal/worker"
)

// DatabaseConfig points the journal at the postgres container
func (tc *TestContainers) DatabaseConfig() *database.Config {
	return &database.Config{
		URL:             tc.PostgresURL,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
		ServiceName:     "countly-nest-test",
	}
}

// CacheConfig points the remote config store at the redis container
func (tc *TestContainers) CacheConfig() *cache.Config {
	return &cache.Config{
		Host:         tc.RedisHost,
		Port:         tc.RedisPort,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		KeyPrefix:    "test:rc:",
	}
}

// QueueConfig returns a queue config on the NATS container. stream keeps
// suites on separate streams when they share a server.
func (tc *TestContainers) QueueConfig(stream string) *queue.Config {
	return &queue.Config{
		URL:                   tc.NATSURL,
		Name:                  "countly-nest-test",
		StreamName:            stream,
		StreamMaxAge:          time.Hour,
		StreamMaxBytes:        64 * 1024 * 1024,
		StreamMaxMsgs:         100000,
		StreamMaxMsgSize:      1024 * 1024,
		StreamReplicas:        1,
		DuplicateWindow:       2 * time.Minute,
		PublishTimeout:        5 * time.Second,
		ConsumerName:          stream + "_WORKER",
		ConsumerMaxDeliver:    3,
		ConsumerAckWait:       10 * time.Second,
		ConsumerMaxAckPending: 1000,
		DLQStreamName:         stream + "_DLQ",
		DLQMaxRetries:         3,
		DLQRetryInterval:      time.Second,
		BatchSize:             10,
		BatchTimeout:          time.Second,
		WorkerConcurrency:     1,
	}
}

// WorkerConfig returns a worker config that flushes quickly
func WorkerConfig() *worker.Config {
	return &worker.Config{
		WorkerID:        "test-worker",
		WorkerName:      "countly-nest-worker",
		ServiceName:     "countly-nest-worker",
		BatchSize:       10,
		BatchTimeout:    200 * time.Millisecond,
		FlushTimeout:    10 * time.Second,
		MaxDeliveries:   3,
		MetricsInterval: time.Second,
	}
}

package worker

import (
	"sync"
	"time"

	"github.com/birbparty/countly-nest/internal/telemetry"
)

// Metrics holds in-process worker counters for the health endpoint. Every
// record also feeds the Prometheus collectors in telemetry.
type Metrics struct {
	mu sync.RWMutex

	messagesProcessed int64
	messagesJournaled int64
	duplicates        int64
	messagesFailed    int64
	deadLettered      int64

	batchesProcessed int64
	avgBatchSize     float64
	avgBatchTime     float64 // ms

	archivesWritten int64
	rowsArchived    int64

	errorCounts map[string]int64

	startTime       time.Time
	lastProcessedAt time.Time
	isHealthy       bool
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		errorCounts: make(map[string]int64),
		startTime:   time.Now(),
		isHealthy:   true,
	}
}

// RecordJournaled records a successfully journaled batch
func (m *Metrics) RecordJournaled(inserted, duplicates int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messagesJournaled += int64(inserted)
	m.duplicates += int64(duplicates)
	m.messagesProcessed += int64(inserted + duplicates)
	m.lastProcessedAt = time.Now()
}

// RecordError records a failed message
func (m *Metrics) RecordError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCounts[errorType]++
	m.messagesFailed++
}

// RecordDeadLettered records a message moved to the DLQ
func (m *Metrics) RecordDeadLettered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLettered++
}

// RecordBatch records one processed batch
func (m *Metrics) RecordBatch(size int, duration time.Duration, err error) {
	status := telemetry.Status(err)
	telemetry.RecordBatchSize("journal", size)
	telemetry.RecordMessageProcessed("command", status, duration)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchesProcessed++
	n := float64(m.batchesProcessed)
	m.avgBatchSize += (float64(size) - m.avgBatchSize) / n
	m.avgBatchTime += (float64(duration.Milliseconds()) - m.avgBatchTime) / n
}

// RecordArchive records one uploaded archive
func (m *Metrics) RecordArchive(rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.archivesWritten++
	m.rowsArchived += int64(rows)
}

// GetStats returns current metrics
func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sinceLast := time.Duration(0)
	if !m.lastProcessedAt.IsZero() {
		sinceLast = time.Since(m.lastProcessedAt)
	}

	errors := make(map[string]int64, len(m.errorCounts))
	for k, v := range m.errorCounts {
		errors[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds":        time.Since(m.startTime).Seconds(),
		"messages_processed":    m.messagesProcessed,
		"messages_journaled":    m.messagesJournaled,
		"duplicates":            m.duplicates,
		"messages_failed":       m.messagesFailed,
		"dead_lettered":         m.deadLettered,
		"batches_processed":     m.batchesProcessed,
		"avg_batch_size":        m.avgBatchSize,
		"avg_batch_time_ms":     m.avgBatchTime,
		"archives_written":      m.archivesWritten,
		"rows_archived":         m.rowsArchived,
		"error_counts":          errors,
		"last_processed_ago_ms": sinceLast.Milliseconds(),
		"is_healthy":            m.isHealthy,
	}
}

// SetHealthy sets the health status
func (m *Metrics) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isHealthy = healthy
}

// IsHealthy returns the health status
func (m *Metrics) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isHealthy
}

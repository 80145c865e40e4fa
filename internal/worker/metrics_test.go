package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	assert.True(t, m.IsHealthy())

	m.RecordJournaled(8, 2)
	m.RecordError("journal_error")
	m.RecordError("journal_error")
	m.RecordDeadLettered()
	m.RecordBatch(10, 20*time.Millisecond, nil)
	m.RecordBatch(20, 40*time.Millisecond, errors.New("boom"))
	m.RecordArchive(5)

	stats := m.GetStats()
	assert.Equal(t, int64(10), stats["messages_processed"])
	assert.Equal(t, int64(8), stats["messages_journaled"])
	assert.Equal(t, int64(2), stats["duplicates"])
	assert.Equal(t, int64(2), stats["messages_failed"])
	assert.Equal(t, int64(1), stats["dead_lettered"])
	assert.Equal(t, int64(2), stats["batches_processed"])
	assert.InDelta(t, 15.0, stats["avg_batch_size"], 0.001)
	assert.InDelta(t, 30.0, stats["avg_batch_time_ms"], 0.001)
	assert.Equal(t, int64(1), stats["archives_written"])
	assert.Equal(t, int64(5), stats["rows_archived"])
	assert.Equal(t, map[string]int64{"journal_error": 2}, stats["error_counts"])

	m.SetHealthy(false)
	assert.False(t, m.IsHealthy())
}

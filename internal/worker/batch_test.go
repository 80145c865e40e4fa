package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/birbparty/countly-nest/sdk"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatchProcessor(journal *fakeJournal, dlq *fakeDLQ) (*BatchProcessor, *Metrics) {
	metrics := NewMetrics()
	cfg := &Config{BatchSize: 10, MaxDeliveries: 3}
	return NewBatchProcessor(cfg, journal, dlq, metrics), metrics
}

func TestProcessBatch_JournalsAndAcks(t *testing.T) {
	journal := &fakeJournal{}
	bp, metrics := newTestBatchProcessor(journal, &fakeDLQ{})

	a := commandDelivery(t, "app-1", sdk.Command{"track_pageview", map[string]interface{}{"url": "/"}}, 1)
	b := commandDelivery(t, "app-2", sdk.Command{"add_event", map[string]interface{}{"key": "click", "count": 1}}, 1)

	err := bp.ProcessBatch(context.Background(), &Batch{Deliveries: []Delivery{a, b}, StartTime: time.Now()})
	require.NoError(t, err)

	require.Len(t, journal.inserted, 2)
	assert.Equal(t, "app-1", journal.inserted[0].AppKey)
	assert.Equal(t, "track_pageview", journal.inserted[0].Tag)
	assert.Equal(t, "add_event", journal.inserted[1].Tag)
	assert.JSONEq(t, `{"ip":"10.0.0.1"}`, string(journal.inserted[0].Metadata))

	assert.True(t, a.acked)
	assert.True(t, b.acked)

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats["messages_journaled"])
	assert.Equal(t, int64(1), stats["batches_processed"])
}

func TestProcessBatch_DuplicatesAreAcked(t *testing.T) {
	a := commandDelivery(t, "app-1", sdk.Command{"begin_session"}, 2)
	id := decodeID(t, a)

	journal := &fakeJournal{duplicates: map[string]bool{id: true}}
	bp, metrics := newTestBatchProcessor(journal, &fakeDLQ{})

	require.NoError(t, bp.ProcessBatch(context.Background(), &Batch{Deliveries: []Delivery{a}}))
	assert.Empty(t, journal.inserted)
	assert.True(t, a.acked)
	assert.Equal(t, int64(1), metrics.GetStats()["duplicates"])
}

func TestProcessBatch_UndecodableGoesToDLQ(t *testing.T) {
	journal := &fakeJournal{}
	dlq := &fakeDLQ{}
	bp, metrics := newTestBatchProcessor(journal, dlq)

	msg := nats.NewMsg("countly.commands")
	msg.Data = []byte("not json")
	bad := &fakeDelivery{msg: msg, delivered: 1}
	good := commandDelivery(t, "app-1", sdk.Command{"end_session"}, 1)

	require.NoError(t, bp.ProcessBatch(context.Background(), &Batch{Deliveries: []Delivery{bad, good}}))

	require.Len(t, dlq.sent, 1)
	var pe *processingError
	require.True(t, errors.As(dlq.sent[0], &pe))
	assert.Equal(t, "decode_error", pe.Reason())
	assert.True(t, bad.acked)
	assert.True(t, good.acked)
	assert.Len(t, journal.inserted, 1)
	assert.Equal(t, int64(1), metrics.GetStats()["dead_lettered"])
}

func TestProcessBatch_JournalFailure(t *testing.T) {
	tests := []struct {
		name      string
		delivered uint64
		dlqDown   bool
		wantDLQ   bool
		wantAck   bool
		wantNak   bool
	}{
		{"redelivered while attempts remain", 1, false, false, false, true},
		{"dead-lettered on last attempt", 3, false, true, true, false},
		{"nak when the DLQ is unavailable", 3, true, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			journal := &fakeJournal{insertErr: errors.New("connection refused")}
			dlq := &fakeDLQ{failed: tt.dlqDown}
			bp, _ := newTestBatchProcessor(journal, dlq)

			d := commandDelivery(t, "app-1", sdk.Command{"track_clicks"}, tt.delivered)
			err := bp.ProcessBatch(context.Background(), &Batch{Deliveries: []Delivery{d}})
			require.Error(t, err)

			assert.Equal(t, tt.wantDLQ, len(dlq.sent) == 1)
			assert.Equal(t, tt.wantAck, d.acked)
			assert.Equal(t, tt.wantNak, d.naked)
		})
	}
}

func TestProcessBatch_Empty(t *testing.T) {
	bp, _ := newTestBatchProcessor(&fakeJournal{}, &fakeDLQ{})
	assert.NoError(t, bp.ProcessBatch(context.Background(), nil))
	assert.NoError(t, bp.ProcessBatch(context.Background(), &Batch{}))
}

func decodeID(t *testing.T, d *fakeDelivery) string {
	t.Helper()
	entry, err := decodeEntry(d.msg.Data)
	require.NoError(t, err)
	return entry.MessageID
}

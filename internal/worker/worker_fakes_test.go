package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/sdk"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

type fakeDelivery struct {
	msg       *nats.Msg
	delivered uint64
	acked     bool
	naked     bool
}

func (d *fakeDelivery) Msg() *nats.Msg       { return d.msg }
func (d *fakeDelivery) NumDelivered() uint64 { return d.delivered }
func (d *fakeDelivery) Ack() error           { d.acked = true; return nil }
func (d *fakeDelivery) Nak() error           { d.naked = true; return nil }

func commandDelivery(t *testing.T, appKey string, cmd sdk.Command, delivered uint64) *fakeDelivery {
	t.Helper()
	m, err := queue.NewCommandMessage(appKey, cmd, map[string]string{"ip": "10.0.0.1"})
	require.NoError(t, err)
	data, err := m.Marshal()
	require.NoError(t, err)

	msg := nats.NewMsg(queue.SubjectCommands)
	msg.Data = data
	return &fakeDelivery{msg: msg, delivered: delivered}
}

type fakeJournal struct {
	mu         sync.Mutex
	inserted   []*database.JournalEntry
	duplicates map[string]bool
	insertErr  error

	unarchived  []*database.JournalEntry
	listCutoff  time.Time
	marked      []int64
	markErr     error
	purgeCutoff time.Time
}

func (j *fakeJournal) InsertBatch(ctx context.Context, entries []*database.JournalEntry) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.insertErr != nil {
		return 0, j.insertErr
	}
	n := 0
	for _, e := range entries {
		if j.duplicates[e.MessageID] {
			continue
		}
		j.inserted = append(j.inserted, e)
		n++
	}
	return n, nil
}

func (j *fakeJournal) ListUnarchived(ctx context.Context, cutoff time.Time, limit int) ([]*database.JournalEntry, error) {
	j.listCutoff = cutoff
	if limit > 0 && len(j.unarchived) > limit {
		return j.unarchived[:limit], nil
	}
	return j.unarchived, nil
}

func (j *fakeJournal) MarkArchived(ctx context.Context, ids []int64, at time.Time) (int64, error) {
	if j.markErr != nil {
		return 0, j.markErr
	}
	j.marked = append(j.marked, ids...)
	return int64(len(ids)), nil
}

func (j *fakeJournal) DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	j.purgeCutoff = cutoff
	return 0, nil
}

type fakeDLQ struct {
	sent   []error
	failed bool
}

func (f *fakeDLQ) SendToDLQ(ctx context.Context, msg *nats.Msg, cause error) error {
	if f.failed {
		return errors.New("dlq unavailable")
	}
	f.sent = append(f.sent, cause)
	return nil
}

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/birbparty/countly-nest/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiveStore struct {
	uploads map[string][]int64
	failFor string
}

func (f *fakeArchiveStore) UploadBatch(ctx context.Context, appKey string, entries []*database.JournalEntry) (string, error) {
	if appKey == f.failFor {
		return "", errors.New("access denied")
	}
	if f.uploads == nil {
		f.uploads = make(map[string][]int64)
	}
	for _, e := range entries {
		f.uploads[appKey] = append(f.uploads[appKey], e.ID)
	}
	return "journal-archives/" + appKey, nil
}

func journalRows() []*database.JournalEntry {
	return []*database.JournalEntry{
		{ID: 1, AppKey: "app-a", Tag: "begin_session"},
		{ID: 2, AppKey: "app-b", Tag: "track_pageview"},
		{ID: 3, AppKey: "app-a", Tag: "end_session"},
	}
}

func newTestArchiver(journal *fakeJournal, store *fakeArchiveStore, retain time.Duration) (*Archiver, time.Time) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := &Config{ArchiveAfter: time.Hour, ArchiveBatchSize: 100, RetainArchived: retain}
	a := NewArchiver(cfg, journal, store, NewMetrics())
	a.now = func() time.Time { return now }
	return a, now
}

func TestArchiver_RunOnce(t *testing.T) {
	journal := &fakeJournal{unarchived: journalRows()}
	store := &fakeArchiveStore{}
	a, now := newTestArchiver(journal, store, 24*time.Hour)

	n, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, now.Add(-time.Hour), journal.listCutoff)
	assert.Equal(t, []int64{1, 3}, store.uploads["app-a"])
	assert.Equal(t, []int64{2}, store.uploads["app-b"])
	assert.ElementsMatch(t, []int64{1, 2, 3}, journal.marked)
	assert.Equal(t, now.Add(-24*time.Hour), journal.purgeCutoff)
}

func TestArchiver_UploadFailureLeavesRowsUnarchived(t *testing.T) {
	journal := &fakeJournal{unarchived: journalRows()}
	store := &fakeArchiveStore{failFor: "app-a"}
	a, _ := newTestArchiver(journal, store, 24*time.Hour)

	n, err := a.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app-a")
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{2}, journal.marked)
	assert.True(t, journal.purgeCutoff.IsZero())
}

func TestArchiver_NoRetention(t *testing.T) {
	journal := &fakeJournal{}
	a, _ := newTestArchiver(journal, &fakeArchiveStore{}, 0)

	n, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, journal.purgeCutoff.IsZero())
}

func TestGroupByApp(t *testing.T) {
	groups := groupByApp(journalRows())
	require.Len(t, groups, 2)
	assert.Equal(t, "app-a", groups[0].appKey)
	assert.Len(t, groups[0].entries, 2)
	assert.Equal(t, "app-b", groups[1].appKey)
	assert.Empty(t, groupByApp(nil))
}

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/birbparty/countly-nest/internal/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journalEntry(appKey, tag, command string) *database.JournalEntry {
	return &database.JournalEntry{
		MessageID:  uuid.NewString(),
		AppKey:     appKey,
		Tag:        tag,
		Command:    json.RawMessage(command),
		Metadata:   database.EncodeMetadata(map[string]string{"ip": "10.0.0.1"}),
		ReceivedAt: time.Now().UTC(),
	}
}

func TestJournal_InsertBatchSkipsRedeliveries(t *testing.T) {
	resetJournal(t)
	ctx := context.Background()
	repo := database.NewJournalRepository(testDB)

	first := journalEntry("app-a", "add_event", `["add_event",{"key":"click","count":1}]`)
	second := journalEntry("app-a", "track_pageview", `["track_pageview"]`)

	inserted, err := repo.InsertBatch(ctx, []*database.JournalEntry{first, second})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	redelivered := *first
	inserted, err = repo.InsertBatch(ctx, []*database.JournalEntry{&redelivered})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	got, err := repo.Get(ctx, first.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "app-a", got.AppKey)
	assert.JSONEq(t, string(first.Command), string(got.Command))
	assert.JSONEq(t, `{"ip":"10.0.0.1"}`, string(got.Metadata))
	assert.Nil(t, got.ArchivedAt)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestJournal_StoredAsJSONB(t *testing.T) {
	resetJournal(t)
	ctx := context.Background()
	repo := database.NewJournalRepository(testDB)

	entry := journalEntry("app-a", "add_event", `["add_event",{"key":"purchase","count":2,"sum":30}]`)
	_, err := repo.InsertBatch(ctx, []*database.JournalEntry{entry})
	require.NoError(t, err)

	var key string
	var count int
	err = testSQL.QueryRowContext(ctx, `
		SELECT command->1->>'key', (command->1->>'count')::int
		FROM command_journal WHERE message_id = $1
	`, entry.MessageID).Scan(&key, &count)
	require.NoError(t, err)
	assert.Equal(t, "purchase", key)
	assert.Equal(t, 2, count)
}

func TestJournal_CountByTag(t *testing.T) {
	resetJournal(t)
	ctx := context.Background()
	repo := database.NewJournalRepository(testDB)

	_, err := repo.InsertBatch(ctx, []*database.JournalEntry{
		journalEntry("app-a", "add_event", `["add_event",{"key":"a"}]`),
		journalEntry("app-a", "add_event", `["add_event",{"key":"b"}]`),
		journalEntry("app-a", "begin_session", `["begin_session"]`),
		journalEntry("app-b", "add_event", `["add_event",{"key":"c"}]`),
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		appKey string
		want   []database.TagCount
	}{
		{
			name:   "one app",
			appKey: "app-a",
			want: []database.TagCount{
				{AppKey: "app-a", Tag: "add_event", Count: 2},
				{AppKey: "app-a", Tag: "begin_session", Count: 1},
			},
		},
		{
			name:   "all apps",
			appKey: "",
			want: []database.TagCount{
				{AppKey: "app-a", Tag: "add_event", Count: 2},
				{AppKey: "app-a", Tag: "begin_session", Count: 1},
				{AppKey: "app-b", Tag: "add_event", Count: 1},
			},
		},
		{
			name:   "unknown app",
			appKey: "app-z",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.CountByTag(ctx, tt.appKey)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJournal_ArchiveLifecycle(t *testing.T) {
	resetJournal(t)
	ctx := context.Background()
	repo := database.NewJournalRepository(testDB)

	_, err := repo.InsertBatch(ctx, []*database.JournalEntry{
		journalEntry("app-b", "add_event", `["add_event",{"key":"x"}]`),
		journalEntry("app-a", "add_event", `["add_event",{"key":"y"}]`),
		journalEntry("app-a", "end_session", `["end_session"]`),
	})
	require.NoError(t, err)

	cutoff := time.Now().Add(time.Minute)
	pending, err := repo.ListUnarchived(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "app-a", pending[0].AppKey, "rows are grouped by app")

	limited, err := repo.ListUnarchived(ctx, cutoff, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	archivedAt := time.Now().Add(-2 * time.Hour)
	n, err := repo.MarkArchived(ctx, []int64{pending[0].ID, pending[1].ID}, archivedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err = repo.ListUnarchived(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	deleted, err := repo.DeleteArchivedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	counts, err := repo.CountByTag(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []database.TagCount{{AppKey: "app-b", Tag: "add_event", Count: 1}}, counts)
}

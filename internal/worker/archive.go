package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/telemetry"
)

// ArchiveStore uploads one app's journal rows as a single object
type ArchiveStore interface {
	UploadBatch(ctx context.Context, appKey string, entries []*database.JournalEntry) (string, error)
}

// Archiver ships journaled rows older than ArchiveAfter to object storage
// and stamps them archived
type Archiver struct {
	config  *Config
	journal JournalStore
	store   ArchiveStore
	metrics *Metrics
	now     func() time.Time
}

// NewArchiver creates a new archiver
func NewArchiver(config *Config, journal JournalStore, store ArchiveStore, metrics *Metrics) *Archiver {
	return &Archiver{
		config:  config,
		journal: journal,
		store:   store,
		metrics: metrics,
		now:     time.Now,
	}
}

// Run archives every ArchiveInterval until ctx is cancelled
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.config.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				telemetry.WithError(err).Error("Archival pass failed")
			}
		}
	}
}

// RunOnce archives one page of eligible rows and returns how many were
// archived. Rows of an app whose upload fails stay unarchived for the next
// pass.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	done := telemetry.TimeOperation(ctx, "journal.archive")

	now := a.now()
	entries, err := a.journal.ListUnarchived(ctx, now.Add(-a.config.ArchiveAfter), a.config.ArchiveBatchSize)
	if err != nil {
		done(telemetry.Status(err))
		return 0, err
	}

	archived := 0
	var firstErr error
	for _, group := range groupByApp(entries) {
		key, err := a.store.UploadBatch(ctx, group.appKey, group.entries)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("archive %s: %w", group.appKey, err)
			}
			continue
		}

		ids := make([]int64, len(group.entries))
		for i, e := range group.entries {
			ids[i] = e.ID
		}
		n, err := a.journal.MarkArchived(ctx, ids, now)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mark %s archived: %w", key, err)
			}
			continue
		}

		archived += int(n)
		a.metrics.RecordArchive(int(n))
		telemetry.WithFields(map[string]interface{}{
			"app_key": group.appKey,
			"object":  key,
			"rows":    n,
		}).Info("Archived journal rows")
	}

	if firstErr == nil && a.config.RetainArchived > 0 {
		if _, err := a.journal.DeleteArchivedBefore(ctx, now.Add(-a.config.RetainArchived)); err != nil {
			firstErr = err
		}
	}

	done(telemetry.Status(firstErr))
	return archived, firstErr
}

type appGroup struct {
	appKey  string
	entries []*database.JournalEntry
}

// groupByApp splits entries into runs per app, keeping first-seen app
// order and id order within an app
func groupByApp(entries []*database.JournalEntry) []appGroup {
	index := make(map[string]int)
	var groups []appGroup
	for _, e := range entries {
		i, ok := index[e.AppKey]
		if !ok {
			i = len(groups)
			index[e.AppKey] = i
			groups = append(groups, appGroup{appKey: e.AppKey})
		}
		groups[i].entries = append(groups[i].entries, e)
	}
	return groups
}

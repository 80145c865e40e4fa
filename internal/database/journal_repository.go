package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/jackc/pgx/v5"
)

// JournalRepository handles command_journal reads and writes
type JournalRepository struct {
	db *DB
}

// NewJournalRepository creates a new journal repository
func NewJournalRepository(db *DB) *JournalRepository {
	return &JournalRepository{db: db}
}

const insertEntrySQL = `
	INSERT INTO command_journal (message_id, app_key, tag, command, metadata, received_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (message_id) DO NOTHING
`

// InsertBatch writes entries in one round trip. Redelivered messages are
// skipped on message_id, so the returned count can be lower than
// len(entries).
func (r *JournalRepository) InsertBatch(ctx context.Context, entries []*JournalEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	done := telemetry.TimeOperation(ctx, "journal.insert_batch")

	batch := &pgx.Batch{}
	for _, e := range entries {
		command, wrapped := normalizeJSON(e.Command, "[]")
		if wrapped {
			telemetry.WithFields(map[string]interface{}{
				"message_id": e.MessageID,
				"app_key":    e.AppKey,
			}).Warn("Journal command was not valid JSON and was stored as a string")
		}
		metadata, _ := normalizeJSON(e.Metadata, "{}")
		batch.Queue(insertEntrySQL, e.MessageID, e.AppKey, e.Tag, command, metadata, e.ReceivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	inserted := 0
	var err error
	for range entries {
		tag, execErr := results.Exec()
		if execErr != nil {
			err = fmt.Errorf("failed to insert journal entry: %w", execErr)
			break
		}
		inserted += int(tag.RowsAffected())
	}
	if closeErr := results.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close journal batch: %w", closeErr)
	}

	done(telemetry.Status(err))
	if err != nil {
		return 0, err
	}

	telemetry.RecordJournalRows("inserted", inserted)
	telemetry.RecordJournalRows("duplicate", len(entries)-inserted)
	return inserted, nil
}

const selectEntryColumns = `
	SELECT id, message_id, app_key, tag, command, metadata, received_at, journaled_at, archived_at
	FROM command_journal
`

func scanEntry(row pgx.Row) (*JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(
		&e.ID,
		&e.MessageID,
		&e.AppKey,
		&e.Tag,
		&e.Command,
		&e.Metadata,
		&e.ReceivedAt,
		&e.JournaledAt,
		&e.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Get returns the entry journaled for messageID
func (r *JournalRepository) Get(ctx context.Context, messageID string) (*JournalEntry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, selectEntryColumns+`WHERE message_id = $1`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return entry, nil
}

// ListUnarchived returns up to limit entries journaled before cutoff that
// have not been archived, oldest first and grouped by app.
func (r *JournalRepository) ListUnarchived(ctx context.Context, cutoff time.Time, limit int) ([]*JournalEntry, error) {
	query := selectEntryColumns + `
		WHERE archived_at IS NULL AND journaled_at < $1
		ORDER BY app_key, id
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unarchived entries: %w", err)
	}
	defer rows.Close()

	var entries []*JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal entries: %w", err)
	}

	return entries, nil
}

// MarkArchived stamps archived_at on the given ids and returns how many
// rows changed
func (r *JournalRepository) MarkArchived(ctx context.Context, ids []int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.db.Exec(ctx, `
		UPDATE command_journal
		SET archived_at = $2
		WHERE id = ANY($1) AND archived_at IS NULL
	`, ids, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark entries archived: %w", err)
	}

	telemetry.RecordJournalRows("archived", int(result.RowsAffected()))
	return result.RowsAffected(), nil
}

// CountByTag counts journaled commands per app and tag. An empty appKey
// counts every app.
func (r *JournalRepository) CountByTag(ctx context.Context, appKey string) ([]TagCount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT app_key, tag, COUNT(*)
		FROM command_journal
		WHERE $1 = '' OR app_key = $1
		GROUP BY app_key, tag
		ORDER BY app_key, tag
	`, appKey)
	if err != nil {
		return nil, fmt.Errorf("failed to count journal entries: %w", err)
	}
	defer rows.Close()

	var counts []TagCount
	for rows.Next() {
		var c TagCount
		if err := rows.Scan(&c.AppKey, &c.Tag, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan tag count: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tag counts: %w", err)
	}

	return counts, nil
}

// DeleteArchivedBefore removes archived rows older than cutoff
func (r *JournalRepository) DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM command_journal
		WHERE archived_at IS NOT NULL AND archived_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archived entries: %w", err)
	}
	telemetry.RecordJournalRows("deleted", int(result.RowsAffected()))
	return result.RowsAffected(), nil
}

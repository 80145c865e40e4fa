package database

// Schema is idempotent and safe to apply on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS command_journal (
	id           BIGSERIAL PRIMARY KEY,
	message_id   TEXT NOT NULL UNIQUE,
	app_key      TEXT NOT NULL,
	tag          TEXT NOT NULL,
	command      JSONB NOT NULL,
	metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
	received_at  TIMESTAMPTZ NOT NULL,
	journaled_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	archived_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_command_journal_app_tag
	ON command_journal (app_key, tag);

CREATE INDEX IF NOT EXISTS idx_command_journal_unarchived
	ON command_journal (journaled_at)
	WHERE archived_at IS NULL;
`

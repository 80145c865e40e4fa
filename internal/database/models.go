package database

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a journal entry does not exist
var ErrNotFound = errors.New("journal entry not found")

// JournalEntry is one command tuple as recorded in command_journal
type JournalEntry struct {
	ID          int64           `db:"id" json:"id"`
	MessageID   string          `db:"message_id" json:"message_id"`
	AppKey      string          `db:"app_key" json:"app_key"`
	Tag         string          `db:"tag" json:"tag"`
	Command     json.RawMessage `db:"command" json:"command"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata"`
	ReceivedAt  time.Time       `db:"received_at" json:"received_at"`
	JournaledAt time.Time       `db:"journaled_at" json:"journaled_at"`
	ArchivedAt  *time.Time      `db:"archived_at" json:"archived_at,omitempty"`
}

// TagCount is the number of journaled commands for one tag
type TagCount struct {
	AppKey string `json:"app_key"`
	Tag    string `json:"tag"`
	Count  int64  `json:"count"`
}

// EncodeMetadata renders metadata for the JSONB column, {} when empty
func EncodeMetadata(m map[string]string) json.RawMessage {
	if len(m) == 0 {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// normalizeJSON keeps valid JSON as is and wraps anything else as a JSON
// string, since the command and metadata columns are JSONB.
func normalizeJSON(value []byte, fallback string) (json.RawMessage, bool) {
	if len(value) == 0 {
		return json.RawMessage(fallback), true
	}
	if json.Valid(value) {
		return value, false
	}
	wrapped, _ := json.Marshal(string(value))
	return wrapped, true
}

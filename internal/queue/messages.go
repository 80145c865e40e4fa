package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/birbparty/countly-nest/sdk"
	"github.com/google/uuid"
)

// Subject names
const (
	SubjectCommands = "countly.commands"
	SubjectDLQ      = "countly.commands.dlq"
)

// Header names
const (
	HeaderAppKey          = "X-App-Key"
	HeaderRetries         = "X-Retries"
	HeaderOriginalSubject = "X-Original-Subject"
	HeaderFailedAt        = "X-Failed-At"
	HeaderDLQRetry        = "X-DLQ-Retry"
)

// CommandMessage carries one queued command tuple for an app. Command holds
// the tuple exactly as the SDK would receive it: a JSON array whose first
// element is the tag.
type CommandMessage struct {
	ID         string            `json:"id"`
	AppKey     string            `json:"app_key"`
	ReceivedAt time.Time         `json:"received_at"`
	Command    json.RawMessage   `json:"command"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DLQMessage represents a dead letter queue message
type DLQMessage struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	OriginalSubject string          `json:"original_subject"`
	Error           string          `json:"error"`
	FailedAt        time.Time       `json:"failed_at"`
	Retries         int             `json:"retries"`
	MaxRetries      int             `json:"max_retries"`
}

// NewCommandMessage encodes cmd for appKey under a fresh message id
func NewCommandMessage(appKey string, cmd sdk.Command, metadata map[string]string) (*CommandMessage, error) {
	if cmd.Tag() == "" {
		return nil, sdk.ErrInvalidCommand
	}

	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command %q: %w", cmd.Tag(), err)
	}

	return &CommandMessage{
		ID:         uuid.NewString(),
		AppKey:     appKey,
		ReceivedAt: time.Now().UTC(),
		Command:    raw,
		Metadata:   metadata,
	}, nil
}

// Tag returns the command tag, or "" if the command does not decode
func (m *CommandMessage) Tag() string {
	cmd, err := m.Decode()
	if err != nil {
		return ""
	}
	return cmd.Tag()
}

// Decode parses the command tuple
func (m *CommandMessage) Decode() (sdk.Command, error) {
	return sdk.ParseCommand(m.Command)
}

// Marshal converts the message to JSON bytes
func (m *CommandMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Marshal converts the message to JSON bytes
func (m *DLQMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalCommandMessage unmarshals a command message from JSON
func UnmarshalCommandMessage(data []byte) (*CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" || msg.AppKey == "" || len(msg.Command) == 0 {
		return nil, fmt.Errorf("incomplete command message")
	}
	return &msg, nil
}

// UnmarshalDLQMessage unmarshals a DLQ message from JSON
func UnmarshalDLQMessage(data []byte) (*DLQMessage, error) {
	var msg DLQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

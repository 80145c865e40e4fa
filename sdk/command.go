package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Command tags understood by the engine's command queue.
const (
	TagTrackSessions      = "track_sessions"
	TagTrackPageview      = "track_pageview"
	TagTrackLinks         = "track_links"
	TagTrackForms         = "track_forms"
	TagReportConversion   = "report_conversion"
	TagOptIn              = "opt_in"
	TagOptOut             = "opt_out"
	TagCollectFromForms   = "collect_from_forms"
	TagAddEvent           = "add_event"
	TagStartEvent         = "start_event"
	TagEndEvent           = "end_event"
	TagUserDetails        = "user_details"
	TagUserDataSet        = "userData.set"
	TagUserDataUnset      = "userData.unset"
	TagUserDataSetOnce    = "userData.set_once"
	TagUserDataIncrement  = "userData.increment"
	TagUserDataIncrBy     = "userData.increment_by"
	TagUserDataMultiply   = "userData.multiply"
	TagUserDataMax        = "userData.max"
	TagUserDataMin        = "userData.min"
	TagUserDataPush       = "userData.push"
	TagUserDataPushUnique = "userData.push_unique"
	TagUserDataPull       = "userData.pull"
	TagUserDataSave       = "userData.save"
	TagTrackErrors        = "track_errors"
	TagLogError           = "log_error"
	TagAddLog             = "add_log"
	TagChangeID           = "change_id"
	TagBeginSession       = "begin_session"
	TagSessionDuration    = "session_duration"
	TagEndSession         = "end_session"
	TagEnableOfflineMode  = "enable_offline_mode"
	TagDisableOfflineMode = "disable_offline_mode"
)

// ErrInvalidCommand is returned by ParseCommand for data that is not a
// tagged command tuple.
var ErrInvalidCommand = errors.New("invalid command tuple")

// Command is one entry of the engine's command queue: the tag first, then
// positional arguments. Arguments are plain JSON-compatible values,
// json.RawMessage for pre-rendered objects, or *Element.
type Command []interface{}

// NewCommand builds a command tuple.
func NewCommand(tag string, args ...interface{}) Command {
	cmd := make(Command, 0, len(args)+1)
	cmd = append(cmd, tag)
	return append(cmd, args...)
}

// Tag returns the command tag, or "" for an empty or malformed tuple.
func (c Command) Tag() string {
	if len(c) == 0 {
		return ""
	}
	tag, _ := c[0].(string)
	return tag
}

// Args returns the positional arguments after the tag.
func (c Command) Args() []interface{} {
	if len(c) <= 1 {
		return nil
	}
	return c[1:]
}

// ParseCommand decodes a JSON command tuple as produced by json.Marshal on
// a Command. Objects stay as json.RawMessage so they can be replayed
// byte-for-byte.
func ParseCommand(data []byte) (Command, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty tuple", ErrInvalidCommand)
	}

	var tag string
	if err := json.Unmarshal(raw[0], &tag); err != nil || tag == "" {
		return nil, fmt.Errorf("%w: first element must be a tag", ErrInvalidCommand)
	}

	cmd := Command{tag}
	for _, arg := range raw[1:] {
		var v interface{}
		switch {
		case len(arg) > 0 && arg[0] == '{':
			v = arg
		default:
			if err := json.Unmarshal(arg, &v); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
			}
		}
		cmd = append(cmd, v)
	}
	return cmd, nil
}

// Queue is the append-only command sink the adapter pushes onto. Each call
// appends exactly one command. The adapter never reads from it.
type Queue interface {
	Push(cmd Command) error
}

// QueueFunc adapts a function to the Queue interface.
type QueueFunc func(cmd Command) error

// Push calls f(cmd).
func (f QueueFunc) Push(cmd Command) error {
	return f(cmd)
}

// RecordingQueue keeps every pushed command in memory. It is the default
// queue of NativeEngine and is safe for concurrent use.
type RecordingQueue struct {
	mu       sync.RWMutex
	commands []Command
}

// NewRecordingQueue creates an empty recording queue.
func NewRecordingQueue() *RecordingQueue {
	return &RecordingQueue{}
}

// Push records cmd. It never fails.
func (q *RecordingQueue) Push(cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.commands = append(q.commands, append(Command(nil), cmd...))
	return nil
}

// Commands returns a snapshot of the recorded commands in push order.
func (q *RecordingQueue) Commands() []Command {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Command, len(q.commands))
	copy(out, q.commands)
	return out
}

// Len returns the number of recorded commands.
func (q *RecordingQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.commands)
}

// Drain returns the recorded commands and empties the queue.
func (q *RecordingQueue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.commands
	q.commands = nil
	return out
}

// Element is an opaque handle to a host page element, used to scope link
// and form tracking. In the browser it wraps a js.Value; elsewhere it may
// wrap a CSS selector string or any JSON-encodable reference.
type Element struct {
	ref interface{}
}

// NewElement wraps a host element reference.
func NewElement(ref interface{}) *Element {
	return &Element{ref: ref}
}

// Ref returns the wrapped reference.
func (e *Element) Ref() interface{} {
	if e == nil {
		return nil
	}
	return e.ref
}

// MarshalJSON encodes the wrapped reference. A nil Element encodes as null.
func (e *Element) MarshalJSON() ([]byte, error) {
	if e == nil || e.ref == nil {
		return []byte("null"), nil
	}
	return json.Marshal(e.ref)
}

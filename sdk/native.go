//go:build !(js && wasm)

package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// NativeEngine is an in-process Engine for targets without a browser. It
// keeps the state the web SDK would keep (init config, consent, feature
// groups, view getters, remote config) and forwards queued commands to a
// pluggable Queue, so the same Client code can feed a relay or a test.
//
// Example:
//
//	engine := sdk.NewNativeEngine(sdk.WithQueue(publisher))
//	client := sdk.NewClient(engine)
type NativeEngine struct {
	mu sync.RWMutex

	queue        Queue
	source       RemoteConfigSource
	fetchTimeout time.Duration

	config       json.RawMessage
	consents     map[string]bool
	groups       map[string][]string
	facebook     map[string]string
	viewName     func() string
	viewURL      func() string
	rcHandler    RemoteConfigCallback
	remoteConfig map[string]interface{}
}

// NativeOption configures a NativeEngine.
type NativeOption func(*NativeEngine)

// WithQueue replaces the default RecordingQueue.
func WithQueue(q Queue) NativeOption {
	return func(e *NativeEngine) {
		if q != nil {
			e.queue = q
		}
	}
}

// WithRemoteConfigSource sets where remote config fetches are served from.
func WithRemoteConfigSource(src RemoteConfigSource) NativeOption {
	return func(e *NativeEngine) {
		e.source = src
	}
}

// WithFetchTimeout bounds each remote config fetch. Default: 5s.
func WithFetchTimeout(d time.Duration) NativeOption {
	return func(e *NativeEngine) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

// NewNativeEngine creates an engine backed by a RecordingQueue unless
// WithQueue says otherwise.
func NewNativeEngine(opts ...NativeOption) *NativeEngine {
	e := &NativeEngine{
		queue:        NewRecordingQueue(),
		fetchTimeout: 5 * time.Second,
		consents:     make(map[string]bool),
		groups:       make(map[string][]string),
		facebook:     make(map[string]string),
		remoteConfig: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init stores the serialized configuration. When it enables remote_config
// and a source is set, remote config is loaded right away and the handler
// installed with SetRemoteConfigHandler is invoked.
func (e *NativeEngine) Init(config json.RawMessage) error {
	var probe struct {
		RemoteConfig bool `json:"remote_config"`
	}
	if err := json.Unmarshal(config, &probe); err != nil {
		return fmt.Errorf("invalid init config: %w", err)
	}

	e.mu.Lock()
	e.config = append(json.RawMessage(nil), config...)
	handler := e.rcHandler
	e.mu.Unlock()

	if probe.RemoteConfig && e.source != nil {
		return e.FetchRemoteConfig(nil, nil, handler)
	}
	return nil
}

// InitConfig returns the configuration passed to Init, or nil.
func (e *NativeEngine) InitConfig() json.RawMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.config == nil {
		return nil
	}
	return append(json.RawMessage(nil), e.config...)
}

// Queue returns the command queue.
func (e *NativeEngine) Queue() Queue {
	return e.queue
}

// SetViewNameGetter replaces the view name getter.
func (e *NativeEngine) SetViewNameGetter(fn func() string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewName = fn
	return nil
}

// SetViewURLGetter replaces the view URL getter.
func (e *NativeEngine) SetViewURLGetter(fn func() string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewURL = fn
	return nil
}

// ViewName asks the current getter for the view name. ok is false when no
// getter is installed.
func (e *NativeEngine) ViewName() (name string, ok bool) {
	e.mu.RLock()
	fn := e.viewName
	e.mu.RUnlock()
	if fn == nil {
		return "", false
	}
	return fn(), true
}

// ViewURL asks the current getter for the view URL.
func (e *NativeEngine) ViewURL() (url string, ok bool) {
	e.mu.RLock()
	fn := e.viewURL
	e.mu.RUnlock()
	if fn == nil {
		return "", false
	}
	return fn(), true
}

// CollectFromFacebook records the Facebook property mapping.
func (e *NativeEngine) CollectFromFacebook(props map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range props {
		e.facebook[k] = v
	}
	return nil
}

// FacebookProperties returns the recorded Facebook property mapping.
func (e *NativeEngine) FacebookProperties() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyStringMap(e.facebook)
}

// GroupFeatures registers or replaces feature groups.
func (e *NativeEngine) GroupFeatures(groups map[string][]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, features := range groups {
		e.groups[name] = copyStrings(features)
	}
	return nil
}

// AddConsent grants consent. Group names expand to their features.
func (e *NativeEngine) AddConsent(features []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.expand(features) {
		e.consents[f] = true
	}
	return nil
}

// RemoveConsent withdraws consent. Group names expand to their features.
func (e *NativeEngine) RemoveConsent(features []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.expand(features) {
		delete(e.consents, f)
	}
	return nil
}

// expand must be called with e.mu held.
func (e *NativeEngine) expand(ids []string) []string {
	var out []string
	for _, id := range ids {
		if members, ok := e.groups[id]; ok {
			out = append(out, members...)
			continue
		}
		out = append(out, id)
	}
	return out
}

// HasConsent reports whether consent was given for feature.
func (e *NativeEngine) HasConsent(feature string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.consents[feature]
}

// Consents returns the features with consent, sorted.
func (e *NativeEngine) Consents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.consents))
	for f := range e.consents {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SetRemoteConfigHandler installs the automatic load callback.
func (e *NativeEngine) SetRemoteConfigHandler(cb RemoteConfigCallback) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rcHandler = cb
	return nil
}

// RemoteConfig returns a copy of the stored remote config.
func (e *NativeEngine) RemoteConfig() (map[string]interface{}, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot(), nil
}

// RemoteConfigValue returns one stored remote config value.
func (e *NativeEngine) RemoteConfigValue(key string) (interface{}, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.remoteConfig[key]
	return v, ok, nil
}

// FetchRemoteConfig loads values from the configured source. A full fetch
// replaces the stored config; a partial fetch merges into it. The source's
// error goes to cb; only a missing source is returned directly.
func (e *NativeEngine) FetchRemoteConfig(keys, omit []string, cb RemoteConfigCallback) error {
	if e.source == nil {
		return ErrNoRemoteConfigSource
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.fetchTimeout)
	defer cancel()

	values, err := e.source.Fetch(ctx, keys, omit)

	e.mu.Lock()
	if err == nil {
		if len(keys) == 0 && len(omit) == 0 {
			e.remoteConfig = make(map[string]interface{}, len(values))
		}
		for k, v := range values {
			e.remoteConfig[k] = v
		}
	}
	snapshot := e.snapshot()
	e.mu.Unlock()

	if cb != nil {
		cb(err, snapshot)
	}
	return nil
}

// snapshot must be called with e.mu held.
func (e *NativeEngine) snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(e.remoteConfig))
	for k, v := range e.remoteConfig {
		out[k] = v
	}
	return out
}

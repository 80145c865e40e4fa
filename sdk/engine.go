package sdk

import (
	"context"
	"encoding/json"
)

// RemoteConfigCallback receives the outcome of a remote config fetch. err
// is nil on success and config holds the full current remote config.
type RemoteConfigCallback func(err error, config map[string]interface{})

// Engine is the analytics engine the Client drives. Queued operations go
// through Queue(); everything else is a direct synchronous call whose error,
// if any, is returned to the caller untouched.
//
// Two implementations ship with the package: JSEngine, which binds to the
// Countly web SDK when compiled for js/wasm, and NativeEngine for every
// other target.
type Engine interface {
	// Init hands the serialized configuration to the engine.
	Init(config json.RawMessage) error
	// Queue returns the command queue.
	Queue() Queue

	// SetViewNameGetter replaces the view name provider.
	SetViewNameGetter(fn func() string) error
	// SetViewURLGetter replaces the view URL provider.
	SetViewURLGetter(fn func() string) error

	CollectFromFacebook(props map[string]string) error
	GroupFeatures(groups map[string][]string) error
	AddConsent(features []string) error
	RemoveConsent(features []string) error

	// SetRemoteConfigHandler installs the callback invoked after automatic
	// remote config loads.
	SetRemoteConfigHandler(cb RemoteConfigCallback) error
	// RemoteConfig returns the whole stored remote config.
	RemoteConfig() (map[string]interface{}, error)
	// RemoteConfigValue returns one stored value and whether it exists.
	RemoteConfigValue(key string) (interface{}, bool, error)
	// FetchRemoteConfig refreshes the stored remote config. A non-nil keys
	// restricts the fetch to those keys; a non-nil omit excludes keys. Both
	// nil fetches all. Empty non-nil slices reach the engine as given.
	FetchRemoteConfig(keys, omit []string, cb RemoteConfigCallback) error
}

// RemoteConfigSource provides remote config values to NativeEngine.
type RemoteConfigSource interface {
	Fetch(ctx context.Context, keys, omit []string) (map[string]interface{}, error)
}

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// RemoteConfigStore keeps each app's remote config values in one Redis
// hash. Field values are JSON so numbers, booleans and objects survive the
// round trip.
type RemoteConfigStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRemoteConfigStore returns a store on client. An empty prefix defaults
// to "countly:rc:".
func NewRemoteConfigStore(client redis.Cmdable, prefix string, ttl time.Duration) *RemoteConfigStore {
	if prefix == "" {
		prefix = "countly:rc:"
	}
	return &RemoteConfigStore{client: client, prefix: prefix, ttl: ttl}
}

// HashKey returns the Redis key holding appKey's values
func (s *RemoteConfigStore) HashKey(appKey string) string {
	return s.prefix + appKey
}

// Fetch returns appKey's values. A non-empty keys limits the result to
// those keys; otherwise every value except those in omit is returned.
// Missing apps yield an empty map.
func (s *RemoteConfigStore) Fetch(ctx context.Context, appKey string, keys, omit []string) (map[string]interface{}, error) {
	done := telemetry.TimeOperation(ctx, "remote_config.fetch")

	var (
		raw map[string]string
		err error
	)
	if len(keys) > 0 {
		raw, err = s.fetchFields(ctx, appKey, keys)
	} else {
		raw, err = s.client.HGetAll(ctx, s.HashKey(appKey)).Result()
	}
	done(telemetry.Status(err))
	if err != nil {
		return nil, NewCacheError("failed to read remote config", true).WithError(err)
	}

	values := decodeValues(raw, omit)
	telemetry.RecordRemoteConfigLookup(len(values) > 0)
	return values, nil
}

func (s *RemoteConfigStore) fetchFields(ctx context.Context, appKey string, keys []string) (map[string]string, error) {
	vals, err := s.client.HMGet(ctx, s.HashKey(appKey), keys...).Result()
	if err != nil {
		return nil, err
	}
	raw := make(map[string]string, len(keys))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			raw[keys[i]] = str
		}
	}
	return raw, nil
}

// decodeValues parses stored JSON, keeping undecodable fields as strings
func decodeValues(raw map[string]string, omit []string) map[string]interface{} {
	skip := make(map[string]struct{}, len(omit))
	for _, k := range omit {
		skip[k] = struct{}{}
	}

	out := make(map[string]interface{}, len(raw))
	for field, data := range raw {
		if _, ok := skip[field]; ok {
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			v = data
		}
		out[field] = v
	}
	return out
}

// Put merges values into appKey's hash
func (s *RemoteConfigStore) Put(ctx context.Context, appKey string, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		if strings.TrimSpace(k) == "" {
			return ErrInvalidKey
		}
		data, err := json.Marshal(v)
		if err != nil {
			return NewCacheError("failed to encode remote config value "+k, false).WithError(err)
		}
		fields[k] = string(data)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.HashKey(appKey), fields)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.HashKey(appKey), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return NewCacheError("failed to write remote config", true).WithError(err)
	}

	telemetry.WithFields(map[string]interface{}{
		"app_key": appKey,
		"keys":    len(fields),
	}).Debug("Remote config updated")
	return nil
}

// Delete removes the given keys, or the whole hash when keys is empty.
// It returns ErrKeyNotFound when nothing was removed.
func (s *RemoteConfigStore) Delete(ctx context.Context, appKey string, keys ...string) error {
	var (
		n   int64
		err error
	)
	if len(keys) == 0 {
		n, err = s.client.Del(ctx, s.HashKey(appKey)).Result()
	} else {
		n, err = s.client.HDel(ctx, s.HashKey(appKey), keys...).Result()
	}
	if err != nil {
		return NewCacheError("failed to delete remote config", true).WithError(err)
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// ForApp returns a source bound to appKey, usable as sdk.RemoteConfigSource
func (s *RemoteConfigStore) ForApp(appKey string) *AppRemoteConfig {
	return &AppRemoteConfig{store: s, appKey: appKey}
}

// AppRemoteConfig serves one app's remote config
type AppRemoteConfig struct {
	store  *RemoteConfigStore
	appKey string
}

// Fetch implements sdk.RemoteConfigSource
func (a *AppRemoteConfig) Fetch(ctx context.Context, keys, omit []string) (map[string]interface{}, error) {
	return a.store.Fetch(ctx, a.appKey, keys, omit)
}

//go:build !(js && wasm)

package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Fetch(ctx context.Context, keys, omit []string) (map[string]interface{}, error) {
	args := m.Called(ctx, keys, omit)
	values, _ := args.Get(0).(map[string]interface{})
	return values, args.Error(1)
}

func TestNativeEngine_FetchWithoutSource(t *testing.T) {
	client := NewClient(NewNativeEngine())

	err := client.FetchRemoteConfig(nil)
	assert.ErrorIs(t, err, ErrNoRemoteConfigSource)
}

func TestNativeEngine_FetchRemoteConfig(t *testing.T) {
	src := new(mockSource)
	src.On("Fetch", mock.Anything, []string(nil), []string(nil)).
		Return(map[string]interface{}{"theme": "dark", "limit": 5.0}, nil).Once()
	src.On("Fetch", mock.Anything, []string{"theme"}, []string(nil)).
		Return(map[string]interface{}{"theme": "light"}, nil).Once()

	engine := NewNativeEngine(WithRemoteConfigSource(src))
	client := NewClient(engine)

	var calls []map[string]interface{}
	cb := func(err error, config map[string]interface{}) {
		require.NoError(t, err)
		calls = append(calls, config)
	}

	require.NoError(t, client.FetchRemoteConfig(cb))
	require.NoError(t, client.FetchRemoteConfigKeys([]string{"theme"}, cb))

	require.Len(t, calls, 2)
	assert.Equal(t, "dark", calls[0]["theme"])
	assert.Equal(t, map[string]interface{}{"theme": "light", "limit": 5.0}, calls[1], "partial fetch merges")

	all, err := client.GetRemoteConfig()
	require.NoError(t, err)
	assert.Equal(t, calls[1], all)

	v, ok, err := client.GetRemoteConfigValue("limit")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5.0, v)

	_, ok, _ = client.GetRemoteConfigValue("missing")
	assert.False(t, ok)

	src.AssertExpectations(t)
}

func TestNativeEngine_FetchExcept(t *testing.T) {
	src := new(mockSource)
	src.On("Fetch", mock.Anything, []string(nil), []string{"secret"}).
		Return(map[string]interface{}{"a": 1.0}, nil)

	client := NewClient(NewNativeEngine(WithRemoteConfigSource(src)))
	require.NoError(t, client.FetchRemoteConfigExcept([]string{"secret"}, nil))

	src.AssertExpectations(t)
}

func TestNativeEngine_FetchErrorGoesToCallback(t *testing.T) {
	srcErr := errors.New("redis down")
	src := new(mockSource)
	src.On("Fetch", mock.Anything, mock.Anything, mock.Anything).Return(nil, srcErr)

	client := NewClient(NewNativeEngine(WithRemoteConfigSource(src)))

	var got error
	err := client.FetchRemoteConfig(func(err error, _ map[string]interface{}) { got = err })
	require.NoError(t, err)
	assert.Equal(t, srcErr, got)
}

func TestNativeEngine_InitLoadsRemoteConfig(t *testing.T) {
	src := new(mockSource)
	src.On("Fetch", mock.Anything, []string(nil), []string(nil)).
		Return(map[string]interface{}{"banner": true}, nil).Once()

	engine := NewNativeEngine(WithRemoteConfigSource(src))
	client := NewClient(engine)

	var loaded map[string]interface{}
	require.NoError(t, client.SetRemoteConfigCallback(func(err error, config map[string]interface{}) {
		loaded = config
	}))
	require.NoError(t, client.Configure(NewConfig("K", "https://x").WithRemoteConfig(true)))

	assert.Equal(t, map[string]interface{}{"banner": true}, loaded)
	src.AssertExpectations(t)
}

func TestNativeEngine_InitWithoutRemoteConfig(t *testing.T) {
	src := new(mockSource)
	engine := NewNativeEngine(WithRemoteConfigSource(src))

	require.NoError(t, NewClient(engine).Configure(NewConfig("K", "https://x")))
	src.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func TestNativeEngine_InitRejectsGarbage(t *testing.T) {
	assert.Error(t, NewNativeEngine().Init(json.RawMessage(`not json`)))
}

func TestNativeEngine_GroupReplacement(t *testing.T) {
	engine := NewNativeEngine()

	require.NoError(t, engine.GroupFeatures(map[string][]string{"g": {"views"}}))
	require.NoError(t, engine.GroupFeatures(map[string][]string{"g": {"clicks"}}))
	require.NoError(t, engine.AddConsent([]string{"g"}))

	assert.Equal(t, []string{"clicks"}, engine.Consents())
}

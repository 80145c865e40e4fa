//go:build js && wasm

package sdk

import (
	"syscall/js"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// installFakeCountly puts a minimal stand-in for the web SDK on the global
// object. It records init and consent calls and exposes q as a plain array.
func installFakeCountly(t *testing.T, name string) js.Value {
	t.Helper()
	fake := js.Global().Get("Object").New()
	fake.Set("q", js.Global().Get("Array").New())
	fake.Set("calls", js.Global().Get("Array").New())

	record := func(method string) js.Func {
		return js.FuncOf(func(_ js.Value, args []js.Value) interface{} {
			entry := js.Global().Get("Array").New()
			entry.Call("push", method)
			for _, a := range args {
				entry.Call("push", a)
			}
			fake.Get("calls").Call("push", entry)
			return nil
		})
	}
	for _, m := range []string{"init", "add_consent", "remove_consent", "group_features", "collect_from_facebook", "fetch_remote_config"} {
		fake.Set(m, record(m))
	}
	fake.Set("get_remote_config", js.FuncOf(func(_ js.Value, args []js.Value) interface{} {
		if len(args) > 0 {
			if args[0].String() == "theme" {
				return "dark"
			}
			return js.Undefined()
		}
		return js.Global().Get("JSON").Call("parse", `{"theme":"dark"}`)
	}))

	js.Global().Set(name, fake)
	t.Cleanup(func() { js.Global().Delete(name) })
	return fake
}

func TestNewJSEngine_Missing(t *testing.T) {
	_, err := NewJSEngine(WithGlobal("NoSuchCountly"))
	require.Error(t, err)
	assert.True(t, IsEngineUnavailable(err))
}

func TestJSEngine_PushesOntoQ(t *testing.T) {
	fake := installFakeCountly(t, "CountlyTest")
	engine, err := NewJSEngine(WithGlobal("CountlyTest"))
	require.NoError(t, err)
	client := NewClient(engine)

	require.NoError(t, client.TrackPageviewWithName("checkout"))
	require.NoError(t, client.AddEvent("purchase", 1, Uint32(25), nil, map[string]string{"sku": "A1"}))

	q := fake.Get("q")
	require.Equal(t, 2, q.Length())
	assert.Equal(t, "track_pageview", q.Index(0).Index(0).String())
	assert.Equal(t, "checkout", q.Index(0).Index(1).String())
	assert.Equal(t, "A1", q.Index(1).Index(1).Get("segmentation").Get("sku").String())
}

func TestJSEngine_DirectCalls(t *testing.T) {
	fake := installFakeCountly(t, "CountlyDirect")
	engine, err := NewJSEngine(WithGlobal("CountlyDirect"))
	require.NoError(t, err)
	client := NewClient(engine)

	require.NoError(t, client.Configure(NewConfig("K", "https://x")))
	require.NoError(t, client.AddConsent([]string{"events"}))

	calls := fake.Get("calls")
	require.Equal(t, 2, calls.Length())
	assert.Equal(t, "K", calls.Index(0).Index(1).Get("app_key").String())
	assert.Equal(t, "events", calls.Index(1).Index(1).Index(0).String())
	assert.Equal(t, 0, fake.Get("q").Length())

	v, ok, err := client.GetRemoteConfigValue("theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", v)

	_, ok, err = client.GetRemoteConfigValue("other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJSEngine_ExceptionReturned(t *testing.T) {
	fake := installFakeCountly(t, "CountlyThrows")
	fake.Set("add_consent", js.Global().Call("eval", `(function () { throw new Error("no consent module") })`))

	engine, err := NewJSEngine(WithGlobal("CountlyThrows"))
	require.NoError(t, err)

	err = NewClient(engine).AddConsent([]string{"events"})
	require.Error(t, err)
	_, isJSErr := err.(js.Error)
	assert.True(t, isJSErr)
}

func TestJSEngine_ViewGetter(t *testing.T) {
	fake := installFakeCountly(t, "CountlyViews")
	engine, err := NewJSEngine(WithGlobal("CountlyViews"))
	require.NoError(t, err)
	client := NewClient(engine)

	require.NoError(t, client.SetViewNameCallback(func() string { return "first" }))
	require.NoError(t, client.SetViewNameCallback(func() string { return "second" }))

	assert.Equal(t, "second", fake.Call("getViewName").String())
}

func TestJSEngine_FetchRemoteConfigForms(t *testing.T) {
	fake := installFakeCountly(t, "CountlyFetch")
	engine, err := NewJSEngine(WithGlobal("CountlyFetch"))
	require.NoError(t, err)
	client := NewClient(engine)

	require.NoError(t, client.FetchRemoteConfig(nil))
	require.NoError(t, client.FetchRemoteConfigKeys([]string{}, nil))
	require.NoError(t, client.FetchRemoteConfigKeys([]string{"theme"}, nil))
	require.NoError(t, client.FetchRemoteConfigExcept([]string{}, nil))

	calls := fake.Get("calls")
	require.Equal(t, 4, calls.Length())
	isArray := js.Global().Get("Array").Get("isArray")

	all := calls.Index(0)
	assert.Equal(t, 2, all.Length(), "callback only")

	emptyKeys := calls.Index(1).Index(1)
	assert.True(t, isArray.Invoke(emptyKeys).Bool())
	assert.Equal(t, 0, emptyKeys.Length())

	assert.Equal(t, "theme", calls.Index(2).Index(1).Index(0).String())

	except := calls.Index(3)
	assert.True(t, except.Index(1).IsNull())
	assert.True(t, isArray.Invoke(except.Index(2)).Bool())
	assert.Equal(t, 0, except.Index(2).Length())
}

//go:build js && wasm

package sdk

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"syscall/js"
)

// DefaultGlobal is where the Countly web SDK installs itself.
const DefaultGlobal = "Countly"

// JSEngine drives the Countly web SDK loaded in the host page. JavaScript
// exceptions thrown by the SDK are returned as js.Error values, unmodified.
type JSEngine struct {
	sdk js.Value

	// funcs keeps every callback handed to the SDK alive. Replaced view
	// getters are never released.
	mu    sync.Mutex
	funcs []js.Func
}

// JSOption configures a JSEngine.
type JSOption func(*jsEngineOptions)

type jsEngineOptions struct {
	global string
}

// WithGlobal sets the dotted global path of the SDK object, e.g.
// "Countly" or "countly.default" for bundles exporting a default.
func WithGlobal(path string) JSOption {
	return func(o *jsEngineOptions) {
		if path != "" {
			o.global = path
		}
	}
}

// NewJSEngine locates the SDK object. It fails with an engine error when the
// SDK is not loaded.
func NewJSEngine(opts ...JSOption) (*JSEngine, error) {
	o := jsEngineOptions{global: DefaultGlobal}
	for _, opt := range opts {
		opt(&o)
	}

	v := js.Global()
	for _, part := range strings.Split(o.global, ".") {
		v = v.Get(part)
		if v.Type() != js.TypeObject && v.Type() != js.TypeFunction {
			err := NewError(ErrorTypeEngine, fmt.Sprintf("%s not found", o.global), ErrEngineUnavailable)
			err.Op = "init"
			return nil, err
		}
	}
	return &JSEngine{sdk: v}, nil
}

// catch turns a JavaScript exception raised inside fn into an error.
func catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if jsErr, ok := r.(js.Error); ok {
				err = jsErr
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}

func (e *JSEngine) keep(f js.Func) js.Func {
	e.mu.Lock()
	e.funcs = append(e.funcs, f)
	e.mu.Unlock()
	return f
}

// Init calls Countly.init with the parsed configuration object.
func (e *JSEngine) Init(config json.RawMessage) error {
	return catch(func() {
		e.sdk.Call("init", jsonToJS(config))
	})
}

// Queue returns the SDK's command queue, Countly.q.
func (e *JSEngine) Queue() Queue {
	return QueueFunc(func(cmd Command) error {
		return catch(func() {
			arr := js.Global().Get("Array").New(len(cmd))
			for i, arg := range cmd {
				arr.SetIndex(i, toJS(arg))
			}
			e.sdk.Get("q").Call("push", arr)
		})
	})
}

// SetViewNameGetter assigns Countly.getViewName.
func (e *JSEngine) SetViewNameGetter(fn func() string) error {
	return e.setGetter("getViewName", fn)
}

// SetViewURLGetter assigns Countly.getViewUrl.
func (e *JSEngine) SetViewURLGetter(fn func() string) error {
	return e.setGetter("getViewUrl", fn)
}

func (e *JSEngine) setGetter(prop string, fn func() string) error {
	if fn == nil {
		return catch(func() { e.sdk.Set(prop, js.Undefined()) })
	}
	f := e.keep(js.FuncOf(func(js.Value, []js.Value) interface{} {
		return fn()
	}))
	return catch(func() { e.sdk.Set(prop, f) })
}

// CollectFromFacebook calls Countly.collect_from_facebook.
func (e *JSEngine) CollectFromFacebook(props map[string]string) error {
	return catch(func() { e.sdk.Call("collect_from_facebook", toJS(props)) })
}

// GroupFeatures calls Countly.group_features.
func (e *JSEngine) GroupFeatures(groups map[string][]string) error {
	return catch(func() { e.sdk.Call("group_features", toJS(groups)) })
}

// AddConsent calls Countly.add_consent.
func (e *JSEngine) AddConsent(features []string) error {
	return catch(func() { e.sdk.Call("add_consent", toJS(features)) })
}

// RemoveConsent calls Countly.remove_consent.
func (e *JSEngine) RemoveConsent(features []string) error {
	return catch(func() { e.sdk.Call("remove_consent", toJS(features)) })
}

// SetRemoteConfigHandler assigns Countly.remote_config.
func (e *JSEngine) SetRemoteConfigHandler(cb RemoteConfigCallback) error {
	f := e.callback(cb)
	return catch(func() { e.sdk.Set("remote_config", f) })
}

// RemoteConfig calls Countly.get_remote_config().
func (e *JSEngine) RemoteConfig() (map[string]interface{}, error) {
	var out map[string]interface{}
	err := catch(func() {
		out = jsToMap(e.sdk.Call("get_remote_config"))
	})
	return out, err
}

// RemoteConfigValue calls Countly.get_remote_config(key).
func (e *JSEngine) RemoteConfigValue(key string) (interface{}, bool, error) {
	var (
		value interface{}
		found bool
	)
	err := catch(func() {
		v := e.sdk.Call("get_remote_config", key)
		if v.IsUndefined() {
			return
		}
		value, found = jsToGo(v), true
	})
	return value, found, err
}

// FetchRemoteConfig calls the matching Countly.fetch_remote_config form.
// A non-nil keys or omit is passed through even when empty.
func (e *JSEngine) FetchRemoteConfig(keys, omit []string, cb RemoteConfigCallback) error {
	f := e.callback(cb)
	return catch(func() {
		switch {
		case keys != nil:
			e.sdk.Call("fetch_remote_config", toJS(keys), f)
		case omit != nil:
			e.sdk.Call("fetch_remote_config", js.Null(), toJS(omit), f)
		default:
			e.sdk.Call("fetch_remote_config", f)
		}
	})
}

// callback wraps cb for the SDK. A nil cb becomes undefined.
func (e *JSEngine) callback(cb RemoteConfigCallback) js.Value {
	if cb == nil {
		return js.Undefined()
	}
	f := e.keep(js.FuncOf(func(_ js.Value, args []js.Value) interface{} {
		var err error
		var config map[string]interface{}
		if len(args) > 0 && args[0].Truthy() {
			err = js.Error{Value: args[0]}
		}
		if len(args) > 1 {
			config = jsToMap(args[1])
		}
		cb(err, config)
		return nil
	}))
	return f.Value
}

// toJS converts a command argument into a JavaScript value.
func toJS(arg interface{}) js.Value {
	switch v := arg.(type) {
	case nil:
		return js.Null()
	case js.Value:
		return v
	case *Element:
		switch ref := v.Ref().(type) {
		case nil:
			return js.Null()
		case js.Value:
			return ref
		default:
			return js.ValueOf(ref)
		}
	case json.RawMessage:
		return jsonToJS(v)
	case []string:
		arr := js.Global().Get("Array").New(len(v))
		for i, s := range v {
			arr.SetIndex(i, s)
		}
		return arr
	case map[string]string:
		obj := js.Global().Get("Object").New()
		for k, s := range v {
			obj.Set(k, s)
		}
		return obj
	case map[string][]string:
		obj := js.Global().Get("Object").New()
		for k, s := range v {
			obj.Set(k, toJS(s))
		}
		return obj
	case []interface{}:
		arr := js.Global().Get("Array").New(len(v))
		for i, elem := range v {
			arr.SetIndex(i, toJS(elem))
		}
		return arr
	default:
		return js.ValueOf(v)
	}
}

func jsonToJS(data json.RawMessage) js.Value {
	return js.Global().Get("JSON").Call("parse", string(data))
}

func jsToGo(v js.Value) interface{} {
	if v.IsUndefined() || v.IsNull() {
		return nil
	}
	var out interface{}
	s := js.Global().Get("JSON").Call("stringify", v).String()
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func jsToMap(v js.Value) map[string]interface{} {
	m, _ := jsToGo(v).(map[string]interface{})
	if m == nil {
		m = map[string]interface{}{}
	}
	return m
}

package sdk

import (
	"encoding/json"
	"time"
)

// Client converts typed calls into engine commands. Queued operations push
// exactly one command onto the engine's queue; the remaining operations call
// the engine directly and return its error unmodified.
//
// Client has no state of its own beyond its observer, so it is safe for
// concurrent use whenever the engine and queue are.
//
// Example:
//
//	client := sdk.NewClient(engine)
//	if err := client.Configure(sdk.NewConfig("APP_KEY", "https://countly.example.com")); err != nil {
//	    log.Fatal(err)
//	}
//
//	client.EnableSessionTracking()
//	client.TrackPageviewWithName("checkout")
//	client.AddEvent("purchase", 1, sdk.Uint32(25), nil, map[string]string{"sku": "A1"})
type Client struct {
	engine   Engine
	observer Observer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithObserver sets the observer notified about every operation.
func WithObserver(observer Observer) ClientOption {
	return func(c *Client) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// NewClient creates a client driving engine.
func NewClient(engine Engine, opts ...ClientOption) *Client {
	c := &Client{
		engine:   engine,
		observer: &NoopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Engine returns the engine the client drives.
func (c *Client) Engine() Engine {
	return c.engine
}

// Configure serializes cfg and initializes the engine with it. It should be
// called once, before any other operation, though this is not enforced.
func (c *Client) Configure(cfg *Config) error {
	if cfg == nil {
		return c.reject("init", newSerializationError("init", "config", ErrInvalidValue))
	}
	data, err := cfg.MarshalJSON()
	if err != nil {
		return c.reject("init", err)
	}
	return c.direct("init", func() error {
		return c.engine.Init(data)
	})
}

// push sends one command and reports it to the observer. The queue's error
// is returned as is.
func (c *Client) push(tag string, args ...interface{}) error {
	err := c.engine.Queue().Push(NewCommand(tag, args...))
	c.observer.OnCommand(tag, err)
	return err
}

func (c *Client) direct(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.observer.OnDirectCall(op, time.Since(start), err)
	return err
}

// reject notifies the observer of a serialization failure and returns err.
func (c *Client) reject(op string, err error) error {
	c.observer.OnSerializationError(op, err)
	return err
}

// Sessions

// EnableSessionTracking starts automatic session tracking.
func (c *Client) EnableSessionTracking() error {
	return c.push(TagTrackSessions)
}

// BeginSession starts a session manually. With noHeartbeat the engine does
// not extend the session automatically.
func (c *Client) BeginSession(noHeartbeat bool) error {
	if noHeartbeat {
		return c.push(TagBeginSession, true)
	}
	return c.push(TagBeginSession)
}

// ExtendSession reports secs more seconds of session time.
func (c *Client) ExtendSession(secs float64) error {
	if !isFinite(secs) {
		return c.reject(TagSessionDuration, newSerializationError(TagSessionDuration, "secs", ErrNonFiniteNumber))
	}
	return c.push(TagSessionDuration, secs)
}

// EndSession ends the current session now.
func (c *Client) EndSession() error {
	return c.push(TagEndSession)
}

// EndSessionAfter ends the session, reporting secs of unreported time.
func (c *Client) EndSessionAfter(secs float64) error {
	if !isFinite(secs) {
		return c.reject(TagEndSession, newSerializationError(TagEndSession, "secs", ErrNonFiniteNumber))
	}
	return c.push(TagEndSession, secs)
}

// Views

// TrackPageview reports a view of the current page.
func (c *Client) TrackPageview() error {
	return c.push(TagTrackPageview)
}

// TrackPageviewWithName reports a view under an explicit name.
func (c *Client) TrackPageviewWithName(name string) error {
	return c.push(TagTrackPageview, name)
}

// TrackPageviewWithFilter reports a view of the current page unless it
// matches one of the ignore filters.
func (c *Client) TrackPageviewWithFilter(filter []string) error {
	return c.push(TagTrackPageview, copyStrings(filter))
}

// TrackPageviewWithNameAndFilter combines TrackPageviewWithName and
// TrackPageviewWithFilter.
func (c *Client) TrackPageviewWithNameAndFilter(name string, filter []string) error {
	return c.push(TagTrackPageview, name, copyStrings(filter))
}

// SetViewNameCallback replaces the function the engine asks for the current
// view name. Only the latest callback is used.
func (c *Client) SetViewNameCallback(fn func() string) error {
	return c.direct("set_view_name_getter", func() error {
		return c.engine.SetViewNameGetter(fn)
	})
}

// SetViewURLCallback replaces the function the engine asks for the current
// view URL. Only the latest callback is used.
func (c *Client) SetViewURLCallback(fn func() string) error {
	return c.direct("set_view_url_getter", func() error {
		return c.engine.SetViewURLGetter(fn)
	})
}

// Interaction tracking

// EnableLinkTracking tracks link clicks, optionally only under parent.
func (c *Client) EnableLinkTracking(parent *Element) error {
	if parent == nil {
		return c.push(TagTrackLinks)
	}
	return c.push(TagTrackLinks, parent)
}

// EnableFormSubmissionTracking tracks form submissions, optionally only
// under parent. includeHidden also reports hidden inputs.
func (c *Client) EnableFormSubmissionTracking(parent *Element, includeHidden bool) error {
	return c.push(TagTrackForms, elementOrNull(parent), includeHidden)
}

// EnableFormDataCollection collects user details from forms, optionally only
// under parent. storeAsCustom stores unrecognized fields as custom properties.
func (c *Client) EnableFormDataCollection(parent *Element, storeAsCustom bool) error {
	return c.push(TagCollectFromForms, elementOrNull(parent), storeAsCustom)
}

// CollectFromFacebook collects user details from the Facebook SDK.
// props maps custom property names to Facebook graph fields.
func (c *Client) CollectFromFacebook(props map[string]string) error {
	return c.direct("collect_from_facebook", func() error {
		return c.engine.CollectFromFacebook(copyStringMap(props))
	})
}

// Conversions

// ReportConversion reports a conversion for the campaign the visitor came from.
func (c *Client) ReportConversion() error {
	return c.push(TagReportConversion)
}

// ReportConversionForCampaign reports a conversion for an explicit campaign.
func (c *Client) ReportConversionForCampaign(campaignID string) error {
	return c.push(TagReportConversion, campaignID)
}

// Consent and opt out

// OptIn re-enables tracking after OptOut.
func (c *Client) OptIn() error {
	return c.push(TagOptIn)
}

// OptOut stops all tracking for the visitor.
func (c *Client) OptOut() error {
	return c.push(TagOptOut)
}

// GroupFeatures registers feature groups that AddConsent and RemoveConsent
// can then refer to by name.
func (c *Client) GroupFeatures(groups FeatureGroups) error {
	return c.direct("group_features", func() error {
		return c.engine.GroupFeatures(groups.wire())
	})
}

// AddConsent gives consent for features or feature groups. Identifiers are
// not validated.
func (c *Client) AddConsent(features []string) error {
	return c.direct("add_consent", func() error {
		return c.engine.AddConsent(copyStrings(features))
	})
}

// RemoveConsent withdraws consent for features or feature groups.
func (c *Client) RemoveConsent(features []string) error {
	return c.direct("remove_consent", func() error {
		return c.engine.RemoveConsent(copyStrings(features))
	})
}

// Events

// AddEvent reports a custom event. sum and duration are optional.
func (c *Client) AddEvent(key string, count uint32, sum *uint32, duration *float64, segmentation map[string]string) error {
	return c.AddCustomEvent(CustomEvent{
		Key:          key,
		Count:        count,
		Sum:          sum,
		Duration:     duration,
		Segmentation: segmentation,
	})
}

// AddCustomEvent reports ev.
func (c *Client) AddCustomEvent(ev CustomEvent) error {
	w, err := ev.wire(TagAddEvent)
	if err != nil {
		return c.reject(TagAddEvent, err)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return c.reject(TagAddEvent, newSerializationError(TagAddEvent, "event", err))
	}
	return c.push(TagAddEvent, json.RawMessage(data))
}

// StartEvent starts timing the named event.
func (c *Client) StartEvent(name string) error {
	return c.push(TagStartEvent, name)
}

// EndEvent stops timing the named event and reports it with its duration.
func (c *Client) EndEvent(name string) error {
	return c.push(TagEndEvent, name)
}

// User profile

// SetUserDetails reports the visitor's profile details.
func (c *Client) SetUserDetails(details UserDetails) error {
	data, err := json.Marshal(details.wire())
	if err != nil {
		return c.reject(TagUserDetails, newSerializationError(TagUserDetails, "details", err))
	}
	return c.push(TagUserDetails, json.RawMessage(data))
}

// UserDataSet sets a custom property.
func (c *Client) UserDataSet(key string, value Value) error {
	return c.pushValue(TagUserDataSet, key, value)
}

// UserDataSetOnce sets a custom property only if it has no value yet.
func (c *Client) UserDataSetOnce(key string, value Value) error {
	return c.pushValue(TagUserDataSetOnce, key, value)
}

// UserDataPush appends value to an array property.
func (c *Client) UserDataPush(key string, value Value) error {
	return c.pushValue(TagUserDataPush, key, value)
}

// UserDataPushUnique appends value to an array property if not present.
func (c *Client) UserDataPushUnique(key string, value Value) error {
	return c.pushValue(TagUserDataPushUnique, key, value)
}

// UserDataPull removes value from an array property.
func (c *Client) UserDataPull(key string, value Value) error {
	return c.pushValue(TagUserDataPull, key, value)
}

// UserDataUnset removes a custom property.
func (c *Client) UserDataUnset(key string) error {
	return c.push(TagUserDataUnset, key)
}

// UserDataIncrement increments a numeric property by one.
func (c *Client) UserDataIncrement(key string) error {
	return c.push(TagUserDataIncrement, key)
}

// UserDataIncrementBy increments a numeric property by n.
func (c *Client) UserDataIncrementBy(key string, n float64) error {
	return c.pushNumber(TagUserDataIncrBy, key, n)
}

// UserDataMultiply multiplies a numeric property by n.
func (c *Client) UserDataMultiply(key string, n float64) error {
	return c.pushNumber(TagUserDataMultiply, key, n)
}

// UserDataMax keeps the larger of the stored value and n.
func (c *Client) UserDataMax(key string, n float64) error {
	return c.pushNumber(TagUserDataMax, key, n)
}

// UserDataMin keeps the smaller of the stored value and n.
func (c *Client) UserDataMin(key string, n float64) error {
	return c.pushNumber(TagUserDataMin, key, n)
}

// UserDataSave sends the pending property modifications.
func (c *Client) UserDataSave() error {
	return c.push(TagUserDataSave)
}

func (c *Client) pushValue(tag, key string, value Value) error {
	if value == nil {
		return c.reject(tag, newSerializationError(tag, key, ErrInvalidValue))
	}
	w, err := value.wire(key)
	if err != nil {
		return c.reject(tag, newSerializationError(tag, key, err))
	}
	return c.push(tag, key, w)
}

func (c *Client) pushNumber(tag, key string, n float64) error {
	if !isFinite(n) {
		return c.reject(tag, newSerializationError(tag, key, ErrNonFiniteNumber))
	}
	return c.push(tag, key, n)
}

// Crash reporting

// EnableErrorTracking reports uncaught errors automatically. segments, when
// not nil, is attached to every report.
func (c *Client) EnableErrorTracking(segments map[string]string) error {
	if segments == nil {
		return c.push(TagTrackErrors)
	}
	return c.push(TagTrackErrors, copyStringMap(segments))
}

// LogError reports a handled error. segments is optional.
func (c *Client) LogError(err error, segments map[string]string) error {
	if err == nil {
		return c.reject(TagLogError, newSerializationError(TagLogError, "error", ErrInvalidValue))
	}
	if segments == nil {
		return c.push(TagLogError, err.Error())
	}
	return c.push(TagLogError, err.Error(), copyStringMap(segments))
}

// AddLog adds a breadcrumb attached to later crash reports.
func (c *Client) AddLog(msg string) error {
	return c.push(TagAddLog, msg)
}

// Device and offline mode

// ChangeDeviceID switches to a new device ID. With merge the server merges
// the old device's data into the new one.
func (c *Client) ChangeDeviceID(id string, merge bool) error {
	return c.push(TagChangeID, id, merge)
}

// EnableOfflineMode stops sending data until DisableOfflineMode.
func (c *Client) EnableOfflineMode() error {
	return c.push(TagEnableOfflineMode)
}

// DisableOfflineMode resumes sending data.
func (c *Client) DisableOfflineMode() error {
	return c.push(TagDisableOfflineMode)
}

// DisableOfflineModeWithDeviceID resumes sending data under a new device ID.
func (c *Client) DisableOfflineModeWithDeviceID(id string) error {
	return c.push(TagDisableOfflineMode, id)
}

// Remote config

// SetRemoteConfigCallback installs the callback run after the engine loads
// remote config automatically (Config.RemoteConfig).
func (c *Client) SetRemoteConfigCallback(cb RemoteConfigCallback) error {
	return c.direct("remote_config", func() error {
		return c.engine.SetRemoteConfigHandler(cb)
	})
}

// GetRemoteConfig returns all stored remote config values.
func (c *Client) GetRemoteConfig() (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.direct("get_remote_config", func() error {
		var err error
		out, err = c.engine.RemoteConfig()
		return err
	})
	return out, err
}

// GetRemoteConfigValue returns one stored remote config value.
func (c *Client) GetRemoteConfigValue(key string) (interface{}, bool, error) {
	var (
		value interface{}
		found bool
	)
	err := c.direct("get_remote_config", func() error {
		var err error
		value, found, err = c.engine.RemoteConfigValue(key)
		return err
	})
	return value, found, err
}

// FetchRemoteConfig reloads every remote config value.
func (c *Client) FetchRemoteConfig(cb RemoteConfigCallback) error {
	return c.fetchRemoteConfig(nil, nil, cb)
}

// FetchRemoteConfigKeys reloads only the given keys. An empty keys is
// still passed to the engine; the web SDK then fetches every key.
func (c *Client) FetchRemoteConfigKeys(keys []string, cb RemoteConfigCallback) error {
	return c.fetchRemoteConfig(copyStrings(keys), nil, cb)
}

// FetchRemoteConfigExcept reloads every key except omit.
func (c *Client) FetchRemoteConfigExcept(omit []string, cb RemoteConfigCallback) error {
	return c.fetchRemoteConfig(nil, copyStrings(omit), cb)
}

func (c *Client) fetchRemoteConfig(keys, omit []string, cb RemoteConfigCallback) error {
	return c.direct("fetch_remote_config", func() error {
		return c.engine.FetchRemoteConfig(keys, omit, cb)
	})
}

func elementOrNull(e *Element) interface{} {
	if e == nil {
		return nil
	}
	return e
}

// copyStrings returns a copy of s that is never nil, so it encodes as [].
func copyStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

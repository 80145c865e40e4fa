package sdk

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the options handed to the analytics engine at init.
// Only AppKey and URL are required; everything else is optional and, when
// left at its default, is not sent at all so the engine applies its own
// default.
//
// Configuration can be built using the fluent builder pattern:
//
//	config := sdk.NewConfig("YOUR_APP_KEY", "https://countly.example.com").
//	    WithDeviceID("user-42").
//	    WithIgnoreBots(false).
//	    WithInterval(2 * time.Second).
//	    WithRequireConsent(true)
//
//	err := client.Configure(config)
type Config struct {
	// AppKey is the app key of your app created in Countly. Required.
	AppKey string `yaml:"app_key"`

	// URL is your Countly server URL. Required.
	URL string `yaml:"url"`

	// DeviceID identifies the visitor. Generated by the engine when nil.
	DeviceID *string `yaml:"device_id"`

	// AppVersion is the version of your app or website.
	AppVersion *string `yaml:"app_version"`

	// CountryCode is the visitor's country code.
	CountryCode *string `yaml:"country_code"`

	// City is the visitor's city name.
	City *string `yaml:"city"`

	// IPAddress is the visitor's IP address.
	IPAddress *string `yaml:"ip_address"`

	// Debug outputs debug info into the browser console.
	// Default: false
	Debug bool `yaml:"debug"`

	// IgnoreBots ignores traffic from bots.
	// Default: true
	IgnoreBots bool `yaml:"ignore_bots"`

	// Interval is how often, in milliseconds, the engine checks for data to report.
	// Engine default: 500
	Interval *float64 `yaml:"interval"`

	// QueueSize is the maximum amount of queued requests to store.
	// Engine default: 1000
	QueueSize *uint32 `yaml:"queue_size"`

	// FailTimeout is the time in seconds to wait after a failed connection.
	// Engine default: 60
	FailTimeout *float64 `yaml:"fail_timeout"`

	// InactivityTime is after how many minutes without interaction the
	// visitor counts as inactive.
	// Engine default: 20
	InactivityTime *float64 `yaml:"inactivity_time"`

	// SessionUpdate is how often, in seconds, the session is extended.
	// Engine default: 60
	SessionUpdate *float64 `yaml:"session_update"`

	// MaxEvents is the maximum amount of events sent in one batch.
	// Engine default: 10
	MaxEvents *uint32 `yaml:"max_events"`

	// MaxLogs is the maximum amount of breadcrumbs kept for crash reports.
	// Engine default: 100
	MaxLogs *uint32 `yaml:"max_logs"`

	// IgnoreReferrers lists referrers to ignore. Order is preserved.
	IgnoreReferrers []string `yaml:"ignore_referrers"`

	// IgnorePrefetch keeps prefetching and prerendering from counting as visits.
	// Default: true
	IgnorePrefetch bool `yaml:"ignore_prefetch"`

	// ForcePost forces the POST method for all requests.
	// Default: false
	ForcePost bool `yaml:"force_post"`

	// IgnoreVisitor ignores the current visitor.
	// Default: false
	IgnoreVisitor bool `yaml:"ignore_visitor"`

	// RequireConsent prevents any tracking until consent is given.
	// Default: false
	RequireConsent bool `yaml:"require_consent"`

	// UTM selects which UTM parameters to track. Empty means the engine
	// default (see DefaultUTM).
	UTM map[string]bool `yaml:"utm"`

	// UseSessionCookie tracks sessions with a cookie.
	// Default: true
	UseSessionCookie bool `yaml:"use_session_cookie"`

	// SessionCookieTimeout is how long, in minutes, the session cookie lives.
	// Engine default: 30
	SessionCookieTimeout *float64 `yaml:"session_cookie_timeout"`

	// RemoteConfig enables automatic remote config fetching.
	// Default: false
	RemoteConfig bool `yaml:"remote_config"`

	// OfflineMode collects data without sending it until offline mode is
	// disabled, which also allows providing the device ID later.
	// Default: false
	OfflineMode bool `yaml:"offline_mode"`

	// Namespace separates the local storage of several trackers on one domain.
	Namespace *string `yaml:"namespace"`
}

// NewConfig returns a Config with the mandatory fields set and every
// optional field at its default. No validation is performed.
func NewConfig(appKey, url string) *Config {
	return &Config{
		AppKey:           appKey,
		URL:              url,
		IgnoreBots:       true,
		IgnorePrefetch:   true,
		UseSessionCookie: true,
	}
}

// DefaultUTM returns the UTM parameters the engine tracks when UTM is empty.
func DefaultUTM() map[string]bool {
	return map[string]bool{
		"source":   true,
		"medium":   true,
		"campaign": true,
		"term":     true,
		"content":  true,
	}
}

// WithDeviceID sets the visitor's device ID.
func (c *Config) WithDeviceID(id string) *Config {
	c.DeviceID = &id
	return c
}

// WithAppVersion sets the app version reported with sessions.
func (c *Config) WithAppVersion(version string) *Config {
	c.AppVersion = &version
	return c
}

// WithLocation sets the visitor's country code and city. Empty values are
// left unset.
func (c *Config) WithLocation(countryCode, city string) *Config {
	if countryCode != "" {
		c.CountryCode = &countryCode
	}
	if city != "" {
		c.City = &city
	}
	return c
}

// WithIPAddress sets the visitor's IP address.
func (c *Config) WithIPAddress(ip string) *Config {
	c.IPAddress = &ip
	return c
}

// WithDebug toggles console debug output.
func (c *Config) WithDebug(debug bool) *Config {
	c.Debug = debug
	return c
}

// WithIgnoreBots toggles bot filtering.
func (c *Config) WithIgnoreBots(ignore bool) *Config {
	c.IgnoreBots = ignore
	return c
}

// WithInterval sets how often the engine reports queued data.
// Sent in milliseconds.
func (c *Config) WithInterval(d time.Duration) *Config {
	ms := float64(d) / float64(time.Millisecond)
	c.Interval = &ms
	return c
}

// WithQueueSize sets the maximum amount of stored requests.
func (c *Config) WithQueueSize(size uint32) *Config {
	c.QueueSize = &size
	return c
}

// WithFailTimeout sets the back-off after a failed connection.
// Sent in seconds.
func (c *Config) WithFailTimeout(d time.Duration) *Config {
	s := d.Seconds()
	c.FailTimeout = &s
	return c
}

// WithInactivityTime sets the inactivity threshold. Sent in minutes.
func (c *Config) WithInactivityTime(d time.Duration) *Config {
	m := d.Minutes()
	c.InactivityTime = &m
	return c
}

// WithSessionUpdate sets the session extension period. Sent in seconds.
func (c *Config) WithSessionUpdate(d time.Duration) *Config {
	s := d.Seconds()
	c.SessionUpdate = &s
	return c
}

// WithMaxEvents sets the maximum events per batch.
func (c *Config) WithMaxEvents(n uint32) *Config {
	c.MaxEvents = &n
	return c
}

// WithMaxLogs sets the maximum breadcrumbs kept for crash reports.
func (c *Config) WithMaxLogs(n uint32) *Config {
	c.MaxLogs = &n
	return c
}

// WithIgnoreReferrers appends referrers to ignore.
func (c *Config) WithIgnoreReferrers(referrers ...string) *Config {
	c.IgnoreReferrers = append(c.IgnoreReferrers, referrers...)
	return c
}

// WithIgnorePrefetch toggles prefetch filtering.
func (c *Config) WithIgnorePrefetch(ignore bool) *Config {
	c.IgnorePrefetch = ignore
	return c
}

// WithForcePost toggles POST-only requests.
func (c *Config) WithForcePost(force bool) *Config {
	c.ForcePost = force
	return c
}

// WithIgnoreVisitor toggles ignoring the current visitor.
func (c *Config) WithIgnoreVisitor(ignore bool) *Config {
	c.IgnoreVisitor = ignore
	return c
}

// WithRequireConsent toggles consent gating.
func (c *Config) WithRequireConsent(require bool) *Config {
	c.RequireConsent = require
	return c
}

// WithUTM sets whether a single UTM parameter is tracked.
func (c *Config) WithUTM(param string, track bool) *Config {
	if c.UTM == nil {
		c.UTM = make(map[string]bool)
	}
	c.UTM[param] = track
	return c
}

// WithUseSessionCookie toggles cookie based sessions.
func (c *Config) WithUseSessionCookie(use bool) *Config {
	c.UseSessionCookie = use
	return c
}

// WithSessionCookieTimeout sets the session cookie lifetime. Sent in minutes.
func (c *Config) WithSessionCookieTimeout(d time.Duration) *Config {
	m := d.Minutes()
	c.SessionCookieTimeout = &m
	return c
}

// WithRemoteConfig toggles automatic remote config fetching.
func (c *Config) WithRemoteConfig(enabled bool) *Config {
	c.RemoteConfig = enabled
	return c
}

// WithOfflineMode toggles starting in offline mode.
func (c *Config) WithOfflineMode(offline bool) *Config {
	c.OfflineMode = offline
	return c
}

// WithNamespace sets the storage namespace.
func (c *Config) WithNamespace(namespace string) *Config {
	c.Namespace = &namespace
	return c
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.DeviceID = cloneString(c.DeviceID)
	clone.AppVersion = cloneString(c.AppVersion)
	clone.CountryCode = cloneString(c.CountryCode)
	clone.City = cloneString(c.City)
	clone.IPAddress = cloneString(c.IPAddress)
	clone.Namespace = cloneString(c.Namespace)
	clone.Interval = cloneFloat(c.Interval)
	clone.FailTimeout = cloneFloat(c.FailTimeout)
	clone.InactivityTime = cloneFloat(c.InactivityTime)
	clone.SessionUpdate = cloneFloat(c.SessionUpdate)
	clone.SessionCookieTimeout = cloneFloat(c.SessionCookieTimeout)
	clone.QueueSize = cloneUint32(c.QueueSize)
	clone.MaxEvents = cloneUint32(c.MaxEvents)
	clone.MaxLogs = cloneUint32(c.MaxLogs)
	if c.IgnoreReferrers != nil {
		clone.IgnoreReferrers = append([]string(nil), c.IgnoreReferrers...)
	}
	if c.UTM != nil {
		clone.UTM = make(map[string]bool, len(c.UTM))
		for k, v := range c.UTM {
			clone.UTM[k] = v
		}
	}
	return &clone
}

// configWire is the engine's init object. Booleans that default to true are
// pointers so they are present only when overridden to false.
type configWire struct {
	AppKey               string          `json:"app_key"`
	URL                  string          `json:"url"`
	DeviceID             *string         `json:"device_id,omitempty"`
	AppVersion           *string         `json:"app_version,omitempty"`
	CountryCode          *string         `json:"country_code,omitempty"`
	City                 *string         `json:"city,omitempty"`
	IPAddress            *string         `json:"ip_address,omitempty"`
	Debug                bool            `json:"debug,omitempty"`
	IgnoreBots           *bool           `json:"ignore_bots,omitempty"`
	Interval             *float64        `json:"interval,omitempty"`
	QueueSize            *uint32         `json:"queue_size,omitempty"`
	FailTimeout          *float64        `json:"fail_timeout,omitempty"`
	InactivityTime       *float64        `json:"inactivity_time,omitempty"`
	SessionUpdate        *float64        `json:"session_update,omitempty"`
	MaxEvents            *uint32         `json:"max_events,omitempty"`
	MaxLogs              *uint32         `json:"max_logs,omitempty"`
	IgnoreReferrers      []string        `json:"ignore_referrers,omitempty"`
	IgnorePrefetch       *bool           `json:"ignore_prefetch,omitempty"`
	ForcePost            bool            `json:"force_post,omitempty"`
	IgnoreVisitor        bool            `json:"ignore_visitor,omitempty"`
	RequireConsent       bool            `json:"require_consent,omitempty"`
	UTM                  map[string]bool `json:"utm,omitempty"`
	UseSessionCookie     *bool           `json:"use_session_cookie,omitempty"`
	SessionCookieTimeout *float64        `json:"session_cookie_timeout,omitempty"`
	RemoteConfig         bool            `json:"remote_config,omitempty"`
	OfflineMode          bool            `json:"offline_mode,omitempty"`
	Namespace            *string         `json:"namespace,omitempty"`
}

// MarshalJSON produces the engine's init object. Unset optional fields are
// omitted; default-true booleans appear only when false, default-false
// booleans only when true. A non-finite numeric field is an error.
func (c Config) MarshalJSON() ([]byte, error) {
	numeric := []struct {
		name  string
		value *float64
	}{
		{"interval", c.Interval},
		{"fail_timeout", c.FailTimeout},
		{"inactivity_time", c.InactivityTime},
		{"session_update", c.SessionUpdate},
		{"session_cookie_timeout", c.SessionCookieTimeout},
	}
	for _, n := range numeric {
		if n.value != nil && !isFinite(*n.value) {
			return nil, newSerializationError("init", n.name, ErrNonFiniteNumber)
		}
	}

	return json.Marshal(configWire{
		AppKey:               c.AppKey,
		URL:                  c.URL,
		DeviceID:             c.DeviceID,
		AppVersion:           c.AppVersion,
		CountryCode:          c.CountryCode,
		City:                 c.City,
		IPAddress:            c.IPAddress,
		Debug:                c.Debug,
		IgnoreBots:           falseOnly(c.IgnoreBots),
		Interval:             c.Interval,
		QueueSize:            c.QueueSize,
		FailTimeout:          c.FailTimeout,
		InactivityTime:       c.InactivityTime,
		SessionUpdate:        c.SessionUpdate,
		MaxEvents:            c.MaxEvents,
		MaxLogs:              c.MaxLogs,
		IgnoreReferrers:      c.IgnoreReferrers,
		IgnorePrefetch:       falseOnly(c.IgnorePrefetch),
		ForcePost:            c.ForcePost,
		IgnoreVisitor:        c.IgnoreVisitor,
		RequireConsent:       c.RequireConsent,
		UTM:                  c.UTM,
		UseSessionCookie:     falseOnly(c.UseSessionCookie),
		SessionCookieTimeout: c.SessionCookieTimeout,
		RemoteConfig:         c.RemoteConfig,
		OfflineMode:          c.OfflineMode,
		Namespace:            c.Namespace,
	})
}

// LoadConfigFile reads a YAML file with the same keys as the init object.
// Keys absent from the file keep their NewConfig defaults.
//
// Example file:
//
//	app_key: 5e0b1c...
//	url: https://countly.example.com
//	ignore_bots: false
//	ignore_referrers: [internal.example.com]
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfigYAML(data)
}

// ParseConfigYAML parses YAML config data. See LoadConfigFile.
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg := NewConfig("", "")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func falseOnly(b bool) *bool {
	if b {
		return nil
	}
	f := false
	return &f
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneUint32(p *uint32) *uint32 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// String returns a pointer to s. Handy for optional Config fields.
func String(s string) *string { return &s }

// Float64 returns a pointer to f. Handy for optional event fields.
func Float64(f float64) *float64 { return &f }

// Uint32 returns a pointer to n. Handy for optional event fields.
func Uint32(n uint32) *uint32 { return &n }

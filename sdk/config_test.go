package sdk

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func marshalToMap(t *testing.T, cfg *Config) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return out
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("K", "https://x")

	if !cfg.IgnoreBots || !cfg.IgnorePrefetch || !cfg.UseSessionCookie {
		t.Error("default-true options should be true")
	}
	if cfg.Debug || cfg.ForcePost || cfg.IgnoreVisitor || cfg.RequireConsent || cfg.RemoteConfig || cfg.OfflineMode {
		t.Error("default-false options should be false")
	}

	got := marshalToMap(t, cfg)
	want := map[string]interface{}{"app_key": "K", "url": "https://x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Marshal() = %v, want %v", got, want)
	}
}

func TestConfig_MarshalAsymmetricOmission(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		key     string
		want    interface{}
		present bool
	}{
		{"ignore_bots false is sent", func(c *Config) { c.IgnoreBots = false }, "ignore_bots", false, true},
		{"ignore_bots true is omitted", func(c *Config) { c.IgnoreBots = true }, "ignore_bots", nil, false},
		{"ignore_prefetch false is sent", func(c *Config) { c.IgnorePrefetch = false }, "ignore_prefetch", false, true},
		{"ignore_prefetch true is omitted", func(c *Config) {}, "ignore_prefetch", nil, false},
		{"use_session_cookie false is sent", func(c *Config) { c.UseSessionCookie = false }, "use_session_cookie", false, true},
		{"debug true is sent", func(c *Config) { c.Debug = true }, "debug", true, true},
		{"debug false is omitted", func(c *Config) {}, "debug", nil, false},
		{"force_post true is sent", func(c *Config) { c.ForcePost = true }, "force_post", true, true},
		{"ignore_visitor true is sent", func(c *Config) { c.IgnoreVisitor = true }, "ignore_visitor", true, true},
		{"require_consent true is sent", func(c *Config) { c.RequireConsent = true }, "require_consent", true, true},
		{"remote_config true is sent", func(c *Config) { c.RemoteConfig = true }, "remote_config", true, true},
		{"offline_mode true is sent", func(c *Config) { c.OfflineMode = true }, "offline_mode", true, true},
		{"device_id set is sent", func(c *Config) { c.WithDeviceID("d1") }, "device_id", "d1", true},
		{"device_id nil is omitted", func(c *Config) {}, "device_id", nil, false},
		{"queue_size is sent", func(c *Config) { c.WithQueueSize(50) }, "queue_size", float64(50), true},
		{"empty referrers are omitted", func(c *Config) { c.IgnoreReferrers = []string{} }, "ignore_referrers", nil, false},
		{"empty utm is omitted", func(c *Config) { c.UTM = map[string]bool{} }, "utm", nil, false},
		{"namespace is sent", func(c *Config) { c.WithNamespace("shop") }, "namespace", "shop", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("K", "https://x")
			tt.mutate(cfg)
			got := marshalToMap(t, cfg)

			v, ok := got[tt.key]
			if ok != tt.present {
				t.Fatalf("key %q present = %v, want %v (%v)", tt.key, ok, tt.present, got)
			}
			if tt.present && !reflect.DeepEqual(v, tt.want) {
				t.Errorf("%s = %v, want %v", tt.key, v, tt.want)
			}
		})
	}
}

func TestConfig_IgnoreBotsFalseOnly(t *testing.T) {
	cfg := NewConfig("K", "https://x").WithIgnoreBots(false)
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"app_key":"K","url":"https://x","ignore_bots":false}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestConfig_IgnoreReferrersOrder(t *testing.T) {
	cfg := NewConfig("K", "https://x").WithIgnoreReferrers("b.com", "a.com", "c.com")
	got := marshalToMap(t, cfg)
	want := []interface{}{"b.com", "a.com", "c.com"}
	if !reflect.DeepEqual(got["ignore_referrers"], want) {
		t.Errorf("ignore_referrers = %v, want %v", got["ignore_referrers"], want)
	}
}

func TestConfig_DurationBuilders(t *testing.T) {
	cfg := NewConfig("K", "https://x").
		WithInterval(2 * time.Second).
		WithFailTimeout(90 * time.Second).
		WithInactivityTime(10 * time.Minute).
		WithSessionUpdate(30 * time.Second).
		WithSessionCookieTimeout(time.Hour)

	got := marshalToMap(t, cfg)
	want := map[string]float64{
		"interval":               2000,
		"fail_timeout":           90,
		"inactivity_time":        10,
		"session_update":         30,
		"session_cookie_timeout": 60,
	}
	for key, w := range want {
		if got[key] != w {
			t.Errorf("%s = %v, want %v", key, got[key], w)
		}
	}
}

func TestConfig_MarshalRejectsNonFinite(t *testing.T) {
	tests := []struct {
		name  string
		field string
		set   func(*Config, float64)
	}{
		{"interval", "interval", func(c *Config, f float64) { c.Interval = &f }},
		{"fail_timeout", "fail_timeout", func(c *Config, f float64) { c.FailTimeout = &f }},
		{"inactivity_time", "inactivity_time", func(c *Config, f float64) { c.InactivityTime = &f }},
		{"session_update", "session_update", func(c *Config, f float64) { c.SessionUpdate = &f }},
		{"session_cookie_timeout", "session_cookie_timeout", func(c *Config, f float64) { c.SessionCookieTimeout = &f }},
	}

	for _, tt := range tests {
		for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			t.Run(tt.name, func(t *testing.T) {
				cfg := NewConfig("K", "https://x")
				tt.set(cfg, bad)

				_, err := json.Marshal(cfg)
				if err == nil {
					t.Fatal("Marshal() expected error")
				}
				if !errors.Is(err, ErrNonFiniteNumber) {
					t.Errorf("error = %v, want ErrNonFiniteNumber", err)
				}
				var sdkErr *Error
				if !errors.As(err, &sdkErr) || sdkErr.Field != tt.field {
					t.Errorf("error field = %v, want %s", err, tt.field)
				}
				if sdkErr != nil && sdkErr.Op != "init" {
					t.Errorf("error op = %q, want init", sdkErr.Op)
				}
			})
		}
	}
}

func TestConfig_UTM(t *testing.T) {
	cfg := NewConfig("K", "https://x").WithUTM("source", true).WithUTM("term", false)
	got := marshalToMap(t, cfg)
	want := map[string]interface{}{"source": true, "term": false}
	if !reflect.DeepEqual(got["utm"], want) {
		t.Errorf("utm = %v, want %v", got["utm"], want)
	}

	if len(DefaultUTM()) != 5 {
		t.Errorf("DefaultUTM() has %d entries, want 5", len(DefaultUTM()))
	}
}

func TestConfig_Clone(t *testing.T) {
	orig := NewConfig("K", "https://x").
		WithDeviceID("d1").
		WithIgnoreReferrers("a.com").
		WithUTM("source", true).
		WithQueueSize(10)

	clone := orig.Clone()
	*clone.DeviceID = "d2"
	clone.IgnoreReferrers[0] = "b.com"
	clone.UTM["source"] = false
	*clone.QueueSize = 20

	if *orig.DeviceID != "d1" || orig.IgnoreReferrers[0] != "a.com" || !orig.UTM["source"] || *orig.QueueSize != 10 {
		t.Error("Clone() shares state with the original")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "countly.yaml")
	content := `
app_key: abc
url: https://countly.example.com
ignore_bots: false
debug: true
interval: 1500
max_events: 20
ignore_referrers:
  - internal.example.com
utm:
  source: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error = %v", err)
	}

	if cfg.AppKey != "abc" || cfg.URL != "https://countly.example.com" {
		t.Errorf("mandatory fields = %q %q", cfg.AppKey, cfg.URL)
	}
	if cfg.IgnoreBots {
		t.Error("IgnoreBots should be false")
	}
	if !cfg.IgnorePrefetch || !cfg.UseSessionCookie {
		t.Error("absent keys should keep their defaults")
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
	if cfg.Interval == nil || *cfg.Interval != 1500 {
		t.Errorf("Interval = %v, want 1500", cfg.Interval)
	}
	if cfg.MaxEvents == nil || *cfg.MaxEvents != 20 {
		t.Errorf("MaxEvents = %v, want 20", cfg.MaxEvents)
	}
	if !reflect.DeepEqual(cfg.IgnoreReferrers, []string{"internal.example.com"}) {
		t.Errorf("IgnoreReferrers = %v", cfg.IgnoreReferrers)
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := ParseConfigYAML([]byte("app_key: [unterminated")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

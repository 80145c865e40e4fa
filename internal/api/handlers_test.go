package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/birbparty/countly-nest/internal/cache"
	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []*queue.CommandMessage
	err      error
}

func (p *fakePublisher) PublishCommand(ctx context.Context, msg *queue.CommandMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) commands(t *testing.T) [][]interface{} {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]interface{}, len(p.messages))
	for i, m := range p.messages {
		require.NoError(t, json.Unmarshal(m.Command, &out[i]))
	}
	return out
}

type fakeRemoteConfig struct {
	values map[string]map[string]interface{}
	err    error
}

func (f *fakeRemoteConfig) Fetch(ctx context.Context, appKey string, keys, omit []string) (map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]interface{}{}
	for k, v := range f.values[appKey] {
		if len(keys) > 0 && !contains(keys, k) {
			continue
		}
		if contains(omit, k) {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (f *fakeRemoteConfig) Put(ctx context.Context, appKey string, values map[string]interface{}) error {
	if f.values == nil {
		f.values = map[string]map[string]interface{}{}
	}
	if f.values[appKey] == nil {
		f.values[appKey] = map[string]interface{}{}
	}
	for k, v := range values {
		f.values[appKey][k] = v
	}
	return nil
}

func (f *fakeRemoteConfig) Delete(ctx context.Context, appKey string, keys ...string) error {
	if _, ok := f.values[appKey]; !ok {
		return cache.ErrKeyNotFound
	}
	if len(keys) == 0 {
		delete(f.values, appKey)
		return nil
	}
	for _, k := range keys {
		delete(f.values[appKey], k)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeJournal struct {
	counts []database.TagCount
}

func (f *fakeJournal) CountByTag(ctx context.Context, appKey string) ([]database.TagCount, error) {
	return f.counts, nil
}

func newTestApp(t *testing.T, deps Dependencies, mutate ...func(*Config)) *fiber.App {
	t.Helper()
	cfg := &Config{
		ServiceName:     "countly-nest-api",
		RequestTimeout:  5,
		EnrichUserAgent: true,
		MetricsPath:     "/metrics",
	}
	for _, m := range mutate {
		m(cfg)
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	SetupMiddleware(app, cfg)
	SetupRoutes(app, NewHandler(cfg, deps), cfg)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestCommandRoutes(t *testing.T) {
	tests := []struct {
		name string
		path string
		body interface{}
		want [][]interface{}
	}{
		{
			name: "begin session without heartbeat",
			path: "/v1/apps/app-1/session",
			body: SessionRequest{Action: "begin", NoHeartbeat: true},
			want: [][]interface{}{{"begin_session", true}},
		},
		{
			name: "end session after",
			path: "/v1/apps/app-1/session",
			body: SessionRequest{Action: "end_after", Seconds: 12.5},
			want: [][]interface{}{{"end_session", 12.5}},
		},
		{
			name: "named pageview",
			path: "/v1/apps/app-1/pageview",
			body: PageviewRequest{Name: "checkout"},
			want: [][]interface{}{{"track_pageview", "checkout"}},
		},
		{
			name: "pageview without body",
			path: "/v1/apps/app-1/pageview",
			want: [][]interface{}{{"track_pageview"}},
		},
		{
			name: "event defaults count to one",
			path: "/v1/apps/app-1/events",
			body: `{"key":"click"}`,
			want: [][]interface{}{{"add_event", map[string]interface{}{"key": "click", "count": float64(1), "segmentation": map[string]interface{}{}}}},
		},
		{
			name: "event batch keeps order",
			path: "/v1/apps/app-1/events",
			body: `[{"key":"a","count":2},{"key":"b","count":3,"segmentation":{"s":"x"}}]`,
			want: [][]interface{}{
				{"add_event", map[string]interface{}{"key": "a", "count": float64(2), "segmentation": map[string]interface{}{}}},
				{"add_event", map[string]interface{}{"key": "b", "count": float64(3), "segmentation": map[string]interface{}{"s": "x"}}},
			},
		},
		{
			name: "timed event start",
			path: "/v1/apps/app-1/events/video/start",
			want: [][]interface{}{{"start_event", "video"}},
		},
		{
			name: "user data ops are saved",
			path: "/v1/apps/app-1/user/data",
			body: UserDataRequest{Ops: []UserDataOp{
				{Op: "set", Key: "plan", Value: "pro"},
				{Op: "increment_by", Key: "visits", Amount: 2},
			}},
			want: [][]interface{}{
				{"userData.set", "plan", "pro"},
				{"userData.increment_by", "visits", float64(2)},
				{"userData.save"},
			},
		},
		{
			name: "opt out",
			path: "/v1/apps/app-1/consent",
			body: ConsentRequest{Action: "opt_out"},
			want: [][]interface{}{{"opt_out"}},
		},
		{
			name: "log error",
			path: "/v1/apps/app-1/errors",
			body: ErrorReportRequest{Message: "boom"},
			want: [][]interface{}{{"log_error", "boom"}},
		},
		{
			name: "change device id with merge",
			path: "/v1/apps/app-1/device",
			body: DeviceRequest{Action: "change_id", DeviceID: "user-42", Merge: true},
			want: [][]interface{}{{"change_id", "user-42", true}},
		},
		{
			name: "campaign conversion",
			path: "/v1/apps/app-1/conversions",
			body: ConversionRequest{CampaignID: "spring"},
			want: [][]interface{}{{"report_conversion", "spring"}},
		},
		{
			name: "form tracking with hidden inputs",
			path: "/v1/apps/app-1/tracking",
			body: TrackingRequest{Kind: "forms", IncludeHidden: true},
			want: [][]interface{}{{"track_forms", nil, true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			app := newTestApp(t, Dependencies{Publisher: pub})

			resp, body := doJSON(t, app, http.MethodPost, tt.path, tt.body)
			require.Equal(t, fiber.StatusAccepted, resp.StatusCode, string(body))

			var got CommandResponse
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, "app-1", got.AppKey)
			assert.Equal(t, len(tt.want), got.Accepted)
			assert.Equal(t, tt.want, pub.commands(t))
		})
	}
}

func TestCommandMetadata(t *testing.T) {
	pub := &fakePublisher{}
	app := newTestApp(t, Dependencies{Publisher: pub})

	resp, _ := doJSON(t, app, http.MethodPost, "/v1/apps/app-1/pageview", nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	require.Len(t, pub.messages, 1)
	meta := pub.messages[0].Metadata
	assert.Equal(t, "app-1", pub.messages[0].AppKey)
	assert.Contains(t, meta, MetaIP)
	assert.NotEmpty(t, meta[MetaRequestID])
	assert.Equal(t, "Chrome", meta[MetaBrowserName])
	assert.Equal(t, "Computer", meta[MetaDeviceType])
}

func TestCommandRoutes_Rejected(t *testing.T) {
	tests := []struct {
		name string
		path string
		body interface{}
		code string
	}{
		{"unknown session action", "/v1/apps/app-1/session", SessionRequest{Action: "pause"}, ErrCodeInvalidRequest},
		{"event without key", "/v1/apps/app-1/events", `{"count":1}`, ErrCodeInvalidRequest},
		{"malformed body", "/v1/apps/app-1/session", `{"action":`, ErrCodeInvalidRequest},
		{"unknown user data op", "/v1/apps/app-1/user/data", UserDataRequest{Ops: []UserDataOp{{Op: "append", Key: "k"}}}, ErrCodeInvalidRequest},
		{"object property value", "/v1/apps/app-1/user/data", `{"ops":[{"op":"set","key":"k","value":{"a":1}}]}`, ErrCodeInvalidRequest},
		{"feature consent", "/v1/apps/app-1/consent", ConsentRequest{Action: "add", Features: []string{"sessions"}}, ErrCodeInvalidRequest},
		{"change id without id", "/v1/apps/app-1/device", DeviceRequest{Action: "change_id"}, ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			app := newTestApp(t, Dependencies{Publisher: pub})

			resp, body := doJSON(t, app, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.Equal(t, tt.code, errResp.Code)
			assert.Empty(t, pub.messages)
		})
	}
}

func TestCommandRoutes_QueueFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: timeout")}
	app := newTestApp(t, Dependencies{Publisher: pub})

	resp, body := doJSON(t, app, http.MethodPost, "/v1/apps/app-1/session", SessionRequest{Action: "begin"})
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, ErrCodeQueueUnavailable, errResp.Code)
	assert.Contains(t, errResp.Details, "nats: timeout")
}

func TestUserData_SaveCanBeSkipped(t *testing.T) {
	pub := &fakePublisher{}
	app := newTestApp(t, Dependencies{Publisher: pub})

	save := false
	resp, _ := doJSON(t, app, http.MethodPost, "/v1/apps/app-1/user/data", UserDataRequest{
		Ops:  []UserDataOp{{Op: "unset", Key: "plan"}},
		Save: &save,
	})
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, [][]interface{}{{"userData.unset", "plan"}}, pub.commands(t))
}

func TestRemoteConfigRoutes(t *testing.T) {
	store := &fakeRemoteConfig{}
	app := newTestApp(t, Dependencies{Publisher: &fakePublisher{}, RemoteConfig: store})

	resp, _ := doJSON(t, app, http.MethodPut, "/v1/apps/app-1/remote-config", map[string]interface{}{
		"color": "blue",
		"limit": 10,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	tests := []struct {
		name  string
		query string
		want  map[string]interface{}
	}{
		{"all keys", "", map[string]interface{}{"color": "blue", "limit": float64(10)}},
		{"selected keys", "?keys=color", map[string]interface{}{"color": "blue"}},
		{"omitted keys", "?omit=color", map[string]interface{}{"limit": float64(10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, app, http.MethodGet, "/v1/apps/app-1/remote-config"+tt.query, nil)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			var got RemoteConfigResponse
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.want, got.Values)
		})
	}

	resp, _ = doJSON(t, app, http.MethodDelete, "/v1/apps/app-1/remote-config?keys=color", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.NotContains(t, store.values["app-1"], "color")

	resp, _ = doJSON(t, app, http.MethodDelete, "/v1/apps/unknown/remote-config", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRemoteConfig_Disabled(t *testing.T) {
	app := newTestApp(t, Dependencies{Publisher: &fakePublisher{}})

	resp, _ := doJSON(t, app, http.MethodGet, "/v1/apps/app-1/remote-config", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRemoteConfig_FetchError(t *testing.T) {
	store := &fakeRemoteConfig{err: errors.New("redis down")}
	app := newTestApp(t, Dependencies{Publisher: &fakePublisher{}, RemoteConfig: store})

	resp, _ := doJSON(t, app, http.MethodGet, "/v1/apps/app-1/remote-config", nil)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestJournalCounts(t *testing.T) {
	journal := &fakeJournal{counts: []database.TagCount{
		{AppKey: "app-1", Tag: "add_event", Count: 5},
		{AppKey: "app-1", Tag: "track_pageview", Count: 2},
	}}
	app := newTestApp(t, Dependencies{Publisher: &fakePublisher{}, Journal: journal})

	resp, body := doJSON(t, app, http.MethodGet, "/v1/apps/app-1/journal/counts", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var got JournalCountsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 7, got.Total)
	assert.Equal(t, 5, got.Counts["add_event"])
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthCheck
		status int
		want   string
	}{
		{"all healthy", map[string]HealthCheck{
			"nats":  func(context.Context) error { return nil },
			"redis": func(context.Context) error { return nil },
		}, fiber.StatusOK, "healthy"},
		{"one failing", map[string]HealthCheck{
			"nats":  func(context.Context) error { return nil },
			"redis": func(context.Context) error { return errors.New("refused") },
		}, fiber.StatusServiceUnavailable, "degraded"},
		{"all failing", map[string]HealthCheck{
			"nats": func(context.Context) error { return errors.New("closed") },
		}, fiber.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, Dependencies{Publisher: &fakePublisher{}, Checks: tt.checks})

			resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
			assert.Equal(t, tt.status, resp.StatusCode)

			var got HealthResponse
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.Checks, len(tt.checks))
		})
	}
}

func TestNotFoundAndMetrics(t *testing.T) {
	app := newTestApp(t, Dependencies{Publisher: &fakePublisher{}})

	resp, _ := doJSON(t, app, http.MethodGet, "/v2/nothing", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/metrics", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

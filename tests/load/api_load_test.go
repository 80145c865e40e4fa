package load

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/birbparty/countly-nest/internal/api"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

// startAPI serves the API on a random local port backed by the NATS container
func startAPI(t *testing.T) string {
	t.Helper()

	cfg := &api.Config{
		ServiceName:     "countly-nest-api",
		RequestTimeout:  10,
		EnrichUserAgent: true,
		MetricsPath:     "/metrics",
	}
	app := fiber.New(fiber.Config{
		ErrorHandler:          api.ErrorHandler,
		Immutable:             true,
		DisableStartupMessage: true,
	})
	api.SetupMiddleware(app, cfg)
	api.SetupRoutes(app, api.NewHandler(cfg, api.Dependencies{Publisher: queueClient}), cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.Shutdown() })

	return "http://" + ln.Addr().String()
}

func TestAPILoad_Events(t *testing.T) {
	baseURL := startAPI(t)

	body, err := json.Marshal([]map[string]interface{}{
		{"key": "add_to_cart", "count": 1, "segmentation": map[string]string{"sku": "A1"}},
		{"key": "view_item", "count": 3},
	})
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")

	tests := []struct {
		name       string
		target     vegeta.Target
		rate       vegeta.Rate
		duration   time.Duration
		minSuccess float64
		maxP99     time.Duration
		wantStatus string
	}{
		{
			name: "events",
			target: vegeta.Target{
				Method: http.MethodPost,
				URL:    baseURL + "/v1/apps/load-app/events",
				Body:   body,
				Header: header,
			},
			rate:       vegeta.Rate{Freq: 200, Per: time.Second},
			duration:   5 * time.Second,
			minSuccess: 0.99,
			maxP99:     500 * time.Millisecond,
			wantStatus: "202",
		},
		{
			name: "sessions",
			target: vegeta.Target{
				Method: http.MethodPost,
				URL:    baseURL + "/v1/apps/load-app/session",
				Body:   []byte(`{"action":"extend","seconds":30}`),
				Header: header,
			},
			rate:       vegeta.Rate{Freq: 200, Per: time.Second},
			duration:   5 * time.Second,
			minSuccess: 0.99,
			maxP99:     500 * time.Millisecond,
			wantStatus: "202",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attacker := vegeta.NewAttacker(vegeta.Timeout(5 * time.Second))
			targeter := vegeta.NewStaticTargeter(tt.target)

			var metrics vegeta.Metrics
			for res := range attacker.Attack(targeter, tt.rate, tt.duration, tt.name) {
				metrics.Add(res)
			}
			metrics.Close()

			t.Logf("%s: requests=%d success=%.4f p50=%s p99=%s throughput=%.1f/s",
				tt.name, metrics.Requests, metrics.Success,
				metrics.Latencies.P50, metrics.Latencies.P99, metrics.Throughput)

			assert.GreaterOrEqual(t, metrics.Success, tt.minSuccess, "errors: %v", metrics.Errors)
			assert.LessOrEqual(t, metrics.Latencies.P99, tt.maxP99)
			assert.Contains(t, metrics.StatusCodes, tt.wantStatus)
		})
	}
}

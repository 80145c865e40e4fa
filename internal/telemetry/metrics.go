package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

var (
	metricsOnce  sync.Once
	fileExporter *FileMetricsExporter
)

// Binding metrics
var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countly_commands_total",
		Help: "Total number of commands pushed onto a queue",
	}, []string{"tag", "result"})

	directCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countly_direct_calls_total",
		Help: "Total number of direct engine calls",
	}, []string{"op", "result"})

	directCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "countly_direct_call_duration_seconds",
		Help:    "Duration of direct engine calls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countly_serialization_rejections_total",
		Help: "Total number of operations rejected before reaching the engine",
	}, []string{"op"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "countly_operation_duration_seconds",
		Help:    "Duration of relay operations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	remoteConfigLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countly_remote_config_lookups_total",
		Help: "Remote config lookups by outcome",
	}, []string{"result"})
)

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})
)

// Relay pipeline metrics
var (
	messagesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"type", "status"})

	messageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "message_processing_duration_seconds",
		Help:    "Duration of message processing in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current depth of the queue",
	}, []string{"queue"})

	batchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batch_size",
		Help:    "Size of processing batches",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"type"})

	dlqMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_messages_total",
		Help: "Total number of messages sent to DLQ",
	}, []string{"reason"})

	journalRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countly_journal_rows_total",
		Help: "Journal rows by operation",
	}, []string{"operation"})
)

// System metrics
var (
	serviceUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "service_up",
		Help: "Whether the service is up (1) or down (0)",
	})

	databaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "database_connections_active",
		Help: "Number of active database connections",
	})

	redisConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_connections_active",
		Help: "Number of active Redis connections",
	})
)

// FileMetricsExporter periodically dumps the countly_* and service metrics
// gathered from the default Prometheus registry into a JSON file.
type FileMetricsExporter struct {
	mu       sync.Mutex
	filePath string
	gatherer prometheus.Gatherer
}

// InitMetrics initializes OTLP metric export and the optional file exporter
func InitMetrics(cfg *Config) error {
	var err error
	metricsOnce.Do(func() {
		if cfg.EnableMetrics && !cfg.ExportToFile {
			err = initOTELMetrics(cfg)
		}

		if cfg.ExportToFile && cfg.MetricsFilePath != "" {
			fileExporter = &FileMetricsExporter{
				filePath: cfg.MetricsFilePath,
				gatherer: prometheus.DefaultGatherer,
			}
			go fileExporter.startPeriodicExport(time.Duration(cfg.MetricsInterval) * time.Second)
		}

		serviceUp.Set(1)
	})
	return err
}

func initOTELMetrics(cfg *Config) error {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(time.Duration(cfg.MetricsInterval)*time.Second),
			),
		),
	)
	otel.SetMeterProvider(provider)

	return nil
}

func (f *FileMetricsExporter) startPeriodicExport(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := f.Export(); err != nil {
			L().WithError(err).Error("Failed to export metrics to file")
		}
	}
}

// Export writes the current snapshot to the file
func (f *FileMetricsExporter) Export() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.snapshot()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.filePath), 0755); err != nil {
		return err
	}

	file, err := os.Create(f.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snapshot)
}

// snapshot sums every sample of the exported families, ignoring labels
func (f *FileMetricsExporter) snapshot() (map[string]interface{}, error) {
	families, err := f.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	out := map[string]interface{}{"timestamp": time.Now().Unix()}
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, "countly_") && !strings.HasPrefix(name, "service_") &&
			!strings.HasPrefix(name, "dlq_") && !strings.HasPrefix(name, "messages_") {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[name] = total
	}
	return out, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordCommand records a command push
func RecordCommand(tag string, err error) {
	commandsTotal.WithLabelValues(tag, result(err)).Inc()
}

// RecordDirectCall records a direct engine call
func RecordDirectCall(op string, duration time.Duration, err error) {
	directCallsTotal.WithLabelValues(op, result(err)).Inc()
	directCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRejection records an operation rejected during serialization
func RecordRejection(op string) {
	rejectionsTotal.WithLabelValues(op).Inc()
}

// RecordOperation records a relay operation duration
func RecordOperation(operation, status string, duration time.Duration) {
	operationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordRemoteConfigLookup records a remote config lookup; hit is false
// when no values were stored for the app.
func RecordRemoteConfigLookup(hit bool) {
	if hit {
		remoteConfigLookups.WithLabelValues("hit").Inc()
		return
	}
	remoteConfigLookups.WithLabelValues("miss").Inc()
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMessageProcessed records a processed message
func RecordMessageProcessed(msgType, status string, duration time.Duration) {
	messagesProcessedTotal.WithLabelValues(msgType, status).Inc()
	messageProcessingDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordBatchSize records the size of a processing batch
func RecordBatchSize(batchType string, size int) {
	batchSize.WithLabelValues(batchType).Observe(float64(size))
}

// RecordDLQMessage records a message sent to DLQ
func RecordDLQMessage(reason string) {
	dlqMessagesTotal.WithLabelValues(reason).Inc()
}

// RecordJournalRows records rows written, archived or skipped as duplicates
func RecordJournalRows(operation string, n int) {
	journalRowsTotal.WithLabelValues(operation).Add(float64(n))
}

// UpdateQueueDepth updates the queue depth metric
func UpdateQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// UpdateDatabaseConnections updates the database connections metric
func UpdateDatabaseConnections(count int) {
	databaseConnectionsActive.Set(float64(count))
}

// UpdateRedisConnections updates the Redis connections metric
func UpdateRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

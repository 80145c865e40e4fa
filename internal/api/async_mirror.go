package api

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/Shopify/sarama"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/birbparty/countly-nest/sdk"
)

// MirrorSink delivers one command to a secondary sink
type MirrorSink interface {
	Send(ctx context.Context, appKey string, cmd sdk.Command, metadata map[string]string) error
}

// KafkaSink sends mirrored commands to a Kafka topic keyed by app key
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink creates a Kafka mirror sink
func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// Send pushes cmd through a KafkaQueue bound to appKey
func (s *KafkaSink) Send(ctx context.Context, appKey string, cmd sdk.Command, metadata map[string]string) error {
	return queue.NewKafkaQueue(s.producer, s.topic, appKey, metadata).Push(cmd)
}

// MirrorRequest is a command waiting to be mirrored
type MirrorRequest struct {
	Ctx      context.Context // traced request context
	AppKey   string
	Command  sdk.Command
	Metadata map[string]string
	Retries  int
}

// AsyncMirrorStats provides statistics about the mirror
type AsyncMirrorStats struct {
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`
	WorkerCount   int `json:"worker_count"`
}

// AsyncMirror copies accepted commands to a secondary sink in the
// background. Each app is pinned to one worker so its commands are
// mirrored in push order. A full queue drops the command; the primary
// queue already has it.
type AsyncMirror struct {
	sink       MirrorSink
	shards     []chan MirrorRequest
	capacity   int
	maxRetry   int
	retryDelay time.Duration
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewAsyncMirror creates a mirror with workers goroutines sharing
// queueSize slots
func NewAsyncMirror(sink MirrorSink, queueSize, workers, maxRetry int) *AsyncMirror {
	if workers < 1 {
		workers = 1
	}
	perShard := queueSize / workers
	if perShard < 1 {
		perShard = 1
	}

	m := &AsyncMirror{
		sink:       sink,
		shards:     make([]chan MirrorRequest, workers),
		capacity:   perShard * workers,
		maxRetry:   maxRetry,
		retryDelay: time.Second,
	}
	for i := range m.shards {
		m.shards[i] = make(chan MirrorRequest, perShard)
	}
	mirrorQueueCapacity.Set(float64(m.capacity))

	for i := range m.shards {
		m.wg.Add(1)
		go m.worker(i)
	}
	return m
}

func (m *AsyncMirror) shard(appKey string) chan MirrorRequest {
	h := fnv.New32a()
	h.Write([]byte(appKey))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Mirror queues a copy of cmd without blocking and reports whether it was
// queued. The caller may reuse cmd, metadata and appKey once Mirror returns.
func (m *AsyncMirror) Mirror(ctx context.Context, appKey string, cmd sdk.Command, metadata map[string]string) bool {
	req := MirrorRequest{
		Ctx:      ctx,
		AppKey:   strings.Clone(appKey),
		Command:  cloneCommand(cmd),
		Metadata: cloneMetadata(metadata),
	}
	select {
	case m.shard(req.AppKey) <- req:
		mirrorQueueDepth.Set(float64(m.QueueDepth()))
		return true
	default:
		telemetry.WithFields(map[string]interface{}{
			"app_key": appKey,
			"tag":     cmd.Tag(),
		}).Warn("Mirror queue full, dropping command")
		mirrorErrors.WithLabelValues("queue_full").Inc()
		return false
	}
}

// For returns an sdk.Queue that mirrors every pushed command for appKey.
// Its Push never fails.
func (m *AsyncMirror) For(ctx context.Context, appKey string, metadata map[string]string) sdk.Queue {
	return sdk.QueueFunc(func(cmd sdk.Command) error {
		m.Mirror(ctx, appKey, cmd, metadata)
		return nil
	})
}

func cloneCommand(cmd sdk.Command) sdk.Command {
	if cmd == nil {
		return nil
	}
	out := make(sdk.Command, len(cmd))
	for i, v := range cmd {
		out[i] = cloneArg(v)
	}
	return out
}

func cloneArg(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		return strings.Clone(x)
	case json.RawMessage:
		return json.RawMessage(bytes.Clone(x))
	case []byte:
		return bytes.Clone(x)
	case []string:
		out := make([]string, len(x))
		for i, s := range x {
			out[i] = strings.Clone(s)
		}
		return out
	case map[string]string:
		return cloneMetadata(x)
	case *sdk.Element:
		if x == nil {
			return x
		}
		return sdk.NewElement(cloneArg(x.Ref()))
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = cloneArg(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[strings.Clone(k)] = cloneArg(e)
		}
		return out
	default:
		return v
	}
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.Clone(k)] = strings.Clone(v)
	}
	return out
}

func (m *AsyncMirror) worker(id int) {
	defer m.wg.Done()

	for req := range m.shards[id] {
		m.deliver(id, req)
		mirrorQueueDepth.Set(float64(m.QueueDepth()))
	}
}

// deliver retries in place so later commands of the app wait their turn
func (m *AsyncMirror) deliver(id int, req MirrorRequest) {
	parent := req.Ctx
	if parent == nil {
		parent = context.Background()
	}

	for {
		span, ctx := tracer.StartSpanFromContext(parent, "kafka.mirror",
			tracer.ServiceName("countly-nest-mirror"),
			tracer.ResourceName(req.Command.Tag()),
			tracer.SpanType("queue"),
			tracer.Tag("countly.app_key", req.AppKey),
			tracer.Tag("mirror.attempt", req.Retries+1),
		)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.sink.Send(ctx, req.AppKey, req.Command, req.Metadata)
		cancel()

		if err != nil {
			span.SetTag("error", err)
		}
		span.Finish()

		if err == nil {
			return
		}

		if req.Retries >= m.maxRetry {
			telemetry.WithError(err).WithFields(map[string]interface{}{
				"worker":  id,
				"app_key": req.AppKey,
				"tag":     req.Command.Tag(),
			}).Error("Mirror retries exhausted")
			mirrorErrors.WithLabelValues("max_retries_exceeded").Inc()
			return
		}

		req.Retries++
		time.Sleep(time.Duration(req.Retries) * m.retryDelay)
	}
}

// QueueDepth returns the number of queued commands
func (m *AsyncMirror) QueueDepth() int {
	depth := 0
	for _, s := range m.shards {
		depth += len(s)
	}
	return depth
}

// Stats returns current statistics
func (m *AsyncMirror) Stats() AsyncMirrorStats {
	return AsyncMirrorStats{
		QueueDepth:    m.QueueDepth(),
		QueueCapacity: m.capacity,
		WorkerCount:   len(m.shards),
	}
}

// Shutdown stops accepting commands and waits for queued ones
func (m *AsyncMirror) Shutdown() {
	m.closeOnce.Do(func() {
		for _, s := range m.shards {
			close(s)
		}
	})
	m.wg.Wait()
}

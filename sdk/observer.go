package sdk

import (
	"sync"
	"time"
)

// Observer provides hooks for monitoring Client operations.
// Implement this interface to count commands, track engine latency, or
// integrate with your observability stack.
//
// Observer methods are called synchronously on the caller's goroutine and
// should be fast and non-blocking.
//
// Example implementation:
//
//	type LogObserver struct {
//	    logger *log.Logger
//	}
//
//	func (o *LogObserver) OnCommand(tag string, err error) {
//	    o.logger.Printf("[QUEUE] %s err=%v", tag, err)
//	}
//
//	func (o *LogObserver) OnDirectCall(op string, d time.Duration, err error) {
//	    o.logger.Printf("[CALL] %s took %v err=%v", op, d, err)
//	}
//
//	func (o *LogObserver) OnSerializationError(op string, err error) {
//	    o.logger.Printf("[REJECT] %s: %v", op, err)
//	}
//
//	client := sdk.NewClient(engine, sdk.WithObserver(&LogObserver{logger: log.Default()}))
type Observer interface {
	// OnCommand is called after a command was pushed onto the queue.
	// err is the queue's error, nil on success.
	OnCommand(tag string, err error)

	// OnDirectCall is called after a direct engine call returns.
	OnDirectCall(op string, duration time.Duration, err error)

	// OnSerializationError is called when an operation was rejected before
	// reaching the engine because an argument had no wire representation.
	OnSerializationError(op string, err error)
}

// NoopObserver is the default Observer. It does nothing.
type NoopObserver struct{}

// OnCommand does nothing
func (n *NoopObserver) OnCommand(tag string, err error) {}

// OnDirectCall does nothing
func (n *NoopObserver) OnDirectCall(op string, duration time.Duration, err error) {}

// OnSerializationError does nothing
func (n *NoopObserver) OnSerializationError(op string, err error) {}

// MetricsCollector is a simple in-memory Observer. It counts queued
// commands per tag, direct calls per operation with their latencies, and
// rejections.
//
// It keeps every latency sample and is intended for debugging and tests.
// For production, implement Observer against your metrics system.
//
// Example:
//
//	metrics := sdk.NewMetricsCollector()
//	client := sdk.NewClient(engine, sdk.WithObserver(metrics))
//	client.TrackPageview()
//
//	snapshot := metrics.GetMetrics()
//	fmt.Println(snapshot["commands"].(map[string]int64)["track_pageview"])
type MetricsCollector struct {
	mu              sync.RWMutex
	commandCount    map[string]int64
	commandErrors   map[string]int64
	callCount       map[string]int64
	callErrors      map[string]int64
	latencies       map[string][]time.Duration
	rejectionCount  map[string]int64
	totalCommands   int64
	totalRejections int64
}

// NewMetricsCollector creates a new metrics collector. It is safe for
// concurrent use.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		commandCount:   make(map[string]int64),
		commandErrors:  make(map[string]int64),
		callCount:      make(map[string]int64),
		callErrors:     make(map[string]int64),
		latencies:      make(map[string][]time.Duration),
		rejectionCount: make(map[string]int64),
	}
}

// OnCommand counts the command and its error, if any
func (m *MetricsCollector) OnCommand(tag string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandCount[tag]++
	m.totalCommands++
	if err != nil {
		m.commandErrors[tag]++
	}
}

// OnDirectCall records call count, latency and errors
func (m *MetricsCollector) OnDirectCall(op string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount[op]++
	m.latencies[op] = append(m.latencies[op], duration)
	if err != nil {
		m.callErrors[op]++
	}
}

// OnSerializationError counts the rejection
func (m *MetricsCollector) OnSerializationError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectionCount[op]++
	m.totalRejections++
}

// GetMetrics returns a snapshot of current metrics.
// The returned map is a copy and safe to read without locks.
//
// The metrics include:
//   - "commands": Map of tag to queued command count
//   - "command_errors": Map of tag to queue error count
//   - "calls": Map of direct operation to call count
//   - "call_errors": Map of direct operation to error count
//   - "latencies": Map of direct operation to latency samples
//   - "rejections": Map of operation to serialization error count
//   - "total_commands": Total queued commands
//   - "total_rejections": Total serialization errors
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latenciesCopy := make(map[string][]time.Duration, len(m.latencies))
	for k, v := range m.latencies {
		latenciesCopy[k] = append([]time.Duration(nil), v...)
	}

	return map[string]interface{}{
		"commands":         copyCounts(m.commandCount),
		"command_errors":   copyCounts(m.commandErrors),
		"calls":            copyCounts(m.callCount),
		"call_errors":      copyCounts(m.callErrors),
		"latencies":        latenciesCopy,
		"rejections":       copyCounts(m.rejectionCount),
		"total_commands":   m.totalCommands,
		"total_rejections": m.totalRejections,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// CompositeObserver fans every notification out to several observers in
// order. A panicking observer does not keep the others from running.
//
// Example:
//
//	observer := sdk.NewCompositeObserver(
//	    &LogObserver{logger: log.Default()},
//	    sdk.NewMetricsCollector(),
//	)
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an observer that delegates to multiple observers.
func NewCompositeObserver(observers ...Observer) Observer {
	return &CompositeObserver{observers: observers}
}

// OnCommand notifies all observers
func (c *CompositeObserver) OnCommand(tag string, err error) {
	for _, obs := range c.observers {
		safeNotify(func() { obs.OnCommand(tag, err) })
	}
}

// OnDirectCall notifies all observers
func (c *CompositeObserver) OnDirectCall(op string, duration time.Duration, err error) {
	for _, obs := range c.observers {
		safeNotify(func() { obs.OnDirectCall(op, duration, err) })
	}
}

// OnSerializationError notifies all observers
func (c *CompositeObserver) OnSerializationError(op string, err error) {
	for _, obs := range c.observers {
		safeNotify(func() { obs.OnSerializationError(op, err) })
	}
}

func safeNotify(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

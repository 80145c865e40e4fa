package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Processor consumes the command stream and journals it in batches
type Processor struct {
	config         *Config
	queueClient    *queue.Client
	batchProcessor *BatchProcessor
	dlqHandler     *queue.DLQHandler
	archiver       *Archiver
	metrics        *Metrics
	log            *logrus.Entry

	pending *Batch
	batchMu sync.Mutex

	stopCh      chan struct{}
	stoppedCh   chan struct{}
	stopOnce    sync.Once
	stoppedOnce sync.Once
}

// NewProcessor creates a new message processor. archiver may be nil.
func NewProcessor(config *Config, queueClient *queue.Client, journal JournalStore, archiver *Archiver, metrics *Metrics) *Processor {
	dlq := queue.NewDLQHandler(queueClient)
	return &Processor{
		config:         config,
		queueClient:    queueClient,
		batchProcessor: NewBatchProcessor(config, journal, dlq, metrics),
		dlqHandler:     dlq,
		archiver:       archiver,
		metrics:        metrics,
		log:            telemetry.WithFields(logrus.Fields{"worker_id": config.WorkerID}),
		stopCh:         make(chan struct{}),
		stoppedCh:      make(chan struct{}),
	}
}

// Start consumes until ctx is cancelled or Stop is called. Stop returns
// once Start has, however Start ends.
func (p *Processor) Start(ctx context.Context) error {
	defer p.stoppedOnce.Do(func() { close(p.stoppedCh) })
	p.log.Info("Worker starting message processing")

	qc := p.queueClient.GetConfig()
	if _, err := p.queueClient.CreateConsumer(qc.StreamName, qc.ConsumerName, queue.SubjectCommands); err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()

	sub, err := p.queueClient.Subscribe(subCtx, qc.StreamName, qc.ConsumerName, p.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}
	defer sub.Unsubscribe()

	go func() {
		if err := p.dlqHandler.ProcessDLQ(subCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.WithError(err).Error("DLQ processor stopped")
			p.metrics.SetHealthy(false)
		}
	}()

	if p.archiver != nil {
		go p.archiver.Run(subCtx)
	}

	batchTicker := time.NewTicker(p.config.BatchTimeout)
	defer batchTicker.Stop()

	metricsTicker := time.NewTicker(p.config.MetricsInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.shutdown()

		case <-p.stopCh:
			return p.shutdown()

		case <-batchTicker.C:
			p.flushIfDue(ctx)

		case <-metricsTicker.C:
			p.reportMetrics()
		}
	}
}

// handleMessage adds msg to the pending batch under a consumer span and
// flushes when the batch is full
func (p *Processor) handleMessage(msg *nats.Msg) {
	appKey := msg.Header.Get(queue.HeaderAppKey)

	opts := []tracer.StartSpanOption{
		tracer.ServiceName(p.config.ServiceName),
		tracer.ResourceName("consume " + queue.SubjectCommands),
		tracer.SpanType("queue"),
		tracer.Tag("messaging.system", "nats"),
		tracer.Tag("messaging.destination", queue.SubjectCommands),
		tracer.Tag("messaging.operation", "receive"),
		tracer.Tag("countly.app_key", appKey),
	}
	spanCtx, err := tracer.Extract(tracer.HTTPHeadersCarrier(msg.Header))
	if err != nil && !errors.Is(err, tracer.ErrSpanContextNotFound) {
		p.log.WithError(err).Debug("Failed to extract trace context")
	}
	if spanCtx != nil {
		opts = append(opts, tracer.ChildOf(spanCtx))
	}
	span := tracer.StartSpan("nats.consume", opts...)
	defer span.Finish()

	p.batchMu.Lock()
	defer p.batchMu.Unlock()

	if p.pending == nil {
		p.pending = &Batch{
			Deliveries: make([]Delivery, 0, p.config.BatchSize),
			StartTime:  time.Now(),
		}
	}
	p.pending.Deliveries = append(p.pending.Deliveries, NewDelivery(msg))
	telemetry.UpdateQueueDepth("journal_batch", len(p.pending.Deliveries))

	if len(p.pending.Deliveries) >= p.config.BatchSize {
		size := len(p.pending.Deliveries)
		if err := p.flushLocked(context.Background()); err != nil {
			span.SetTag("error", err)
		} else {
			span.SetTag("messaging.batch_size", size)
		}
	}
}

// flushIfDue flushes a partial batch older than BatchTimeout
func (p *Processor) flushIfDue(ctx context.Context) {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()

	if p.pending == nil || time.Since(p.pending.StartTime) < p.config.BatchTimeout {
		return
	}
	p.flushLocked(ctx)
}

func (p *Processor) flushLocked(parent context.Context) error {
	if p.pending == nil || len(p.pending.Deliveries) == 0 {
		return nil
	}
	batch := p.pending
	p.pending = nil

	telemetry.UpdateQueueDepth("journal_batch", 0)

	ctx, cancel := context.WithTimeout(parent, p.config.FlushTimeout)
	defer cancel()

	err := p.batchProcessor.ProcessBatch(ctx, batch)
	if err != nil {
		p.log.WithError(err).Warn("Failed to journal batch")
	}
	return err
}

func (p *Processor) reportMetrics() {
	stats := p.metrics.GetStats()
	p.log.WithFields(logrus.Fields{
		"processed":     stats["messages_processed"],
		"journaled":     stats["messages_journaled"],
		"duplicates":    stats["duplicates"],
		"failed":        stats["messages_failed"],
		"dead_lettered": stats["dead_lettered"],
		"archived":      stats["rows_archived"],
	}).Info("Worker metrics")
}

// Stop gracefully stops the processor and waits for Start to return. It
// must not be called unless Start was.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.stoppedCh
}

func (p *Processor) shutdown() error {
	p.log.Info("Worker shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.batchMu.Lock()
	p.flushLocked(ctx)
	p.batchMu.Unlock()

	p.reportMetrics()
	return nil
}

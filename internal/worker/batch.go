package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/nats-io/nats.go"
)

// JournalStore is the part of database.JournalRepository the worker uses
type JournalStore interface {
	InsertBatch(ctx context.Context, entries []*database.JournalEntry) (int, error)
	ListUnarchived(ctx context.Context, cutoff time.Time, limit int) ([]*database.JournalEntry, error)
	MarkArchived(ctx context.Context, ids []int64, at time.Time) (int64, error)
	DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeadLetterer moves a message to the dead letter queue
type DeadLetterer interface {
	SendToDLQ(ctx context.Context, msg *nats.Msg, cause error) error
}

// Delivery is one message handed out by the consumer
type Delivery interface {
	Msg() *nats.Msg
	NumDelivered() uint64
	Ack() error
	Nak() error
}

type natsDelivery struct {
	msg *nats.Msg
}

// NewDelivery wraps a JetStream message
func NewDelivery(msg *nats.Msg) Delivery {
	return natsDelivery{msg: msg}
}

func (d natsDelivery) Msg() *nats.Msg { return d.msg }

func (d natsDelivery) NumDelivered() uint64 {
	meta, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return meta.NumDelivered
}

func (d natsDelivery) Ack() error { return d.msg.Ack() }
func (d natsDelivery) Nak() error { return d.msg.Nak() }

// Batch represents a batch of messages to process
type Batch struct {
	Deliveries []Delivery
	StartTime  time.Time
}

// processingError carries the DLQ reason label
type processingError struct {
	reason string
	err    error
}

func (e *processingError) Error() string  { return e.reason + ": " + e.err.Error() }
func (e *processingError) Unwrap() error  { return e.err }
func (e *processingError) Reason() string { return e.reason }

// BatchProcessor journals batches of command messages
type BatchProcessor struct {
	config  *Config
	journal JournalStore
	dlq     DeadLetterer
	metrics *Metrics
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(config *Config, journal JournalStore, dlq DeadLetterer, metrics *Metrics) *BatchProcessor {
	return &BatchProcessor{
		config:  config,
		journal: journal,
		dlq:     dlq,
		metrics: metrics,
	}
}

// ProcessBatch journals every decodable message in one insert. Undecodable
// messages go straight to the DLQ. On a journal failure messages are
// nak'ed for redelivery until they reach MaxDeliveries, then dead-lettered.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, batch *Batch) error {
	if batch == nil || len(batch.Deliveries) == 0 {
		return nil
	}

	start := time.Now()
	entries := make([]*database.JournalEntry, 0, len(batch.Deliveries))
	decoded := make([]Delivery, 0, len(batch.Deliveries))

	for _, d := range batch.Deliveries {
		entry, err := decodeEntry(d.Msg().Data)
		if err != nil {
			bp.metrics.RecordError("decode_error")
			bp.deadLetter(ctx, d, &processingError{reason: "decode_error", err: err})
			continue
		}
		entries = append(entries, entry)
		decoded = append(decoded, d)
	}

	var err error
	if len(entries) > 0 {
		var inserted int
		inserted, err = bp.journal.InsertBatch(ctx, entries)
		if err != nil {
			bp.metrics.RecordError("journal_error")
			bp.handleJournalFailure(ctx, decoded, err)
			err = fmt.Errorf("failed to journal %d commands: %w", len(entries), err)
		} else {
			bp.metrics.RecordJournaled(inserted, len(entries)-inserted)
			for _, d := range decoded {
				if ackErr := d.Ack(); ackErr != nil {
					telemetry.WithError(ackErr).Warn("Failed to ack journaled message")
				}
			}
		}
	}

	bp.metrics.RecordBatch(len(batch.Deliveries), time.Since(start), err)
	return err
}

func (bp *BatchProcessor) handleJournalFailure(ctx context.Context, deliveries []Delivery, cause error) {
	for _, d := range deliveries {
		if bp.config.MaxDeliveries > 0 && d.NumDelivered() >= uint64(bp.config.MaxDeliveries) {
			bp.deadLetter(ctx, d, &processingError{reason: "journal_error", err: cause})
			continue
		}
		d.Nak()
	}
}

// deadLetter acks d once the DLQ has it, and naks it otherwise
func (bp *BatchProcessor) deadLetter(ctx context.Context, d Delivery, cause error) {
	if err := bp.dlq.SendToDLQ(ctx, d.Msg(), cause); err != nil {
		telemetry.WithError(err).Error("Failed to send message to DLQ")
		d.Nak()
		return
	}
	bp.metrics.RecordDeadLettered()
	d.Ack()
}

func decodeEntry(data []byte) (*database.JournalEntry, error) {
	msg, err := queue.UnmarshalCommandMessage(data)
	if err != nil {
		return nil, err
	}
	tag := msg.Tag()
	if tag == "" {
		return nil, fmt.Errorf("message %s carries no command tag", msg.ID)
	}
	return &database.JournalEntry{
		MessageID:  msg.ID,
		AppKey:     msg.AppKey,
		Tag:        tag,
		Command:    msg.Command,
		Metadata:   database.EncodeMetadata(msg.Metadata),
		ReceivedAt: msg.ReceivedAt,
	}, nil
}

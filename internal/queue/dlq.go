package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/nats-io/nats.go"
)

// ErrRetryNotDue is returned for DLQ messages whose backoff has not elapsed
var ErrRetryNotDue = errors.New("dlq retry not due")

// DLQHandler handles dead letter queue operations
type DLQHandler struct {
	client *Client
	config *Config
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(client *Client) *DLQHandler {
	return &DLQHandler{
		client: client,
		config: client.config,
	}
}

func (h *DLQHandler) consumerName() string {
	return h.config.ConsumerName + "-dlq"
}

// SendToDLQ wraps a command message that could not be journaled and
// publishes it on the DLQ subject
func (h *DLQHandler) SendToDLQ(ctx context.Context, originalMsg *nats.Msg, cause error) error {
	retries := RetryCount(originalMsg.Header)

	dlqMsg := &DLQMessage{
		OriginalMessage: originalMsg.Data,
		OriginalSubject: originalMsg.Subject,
		Error:           cause.Error(),
		FailedAt:        time.Now().UTC(),
		Retries:         retries,
		MaxRetries:      h.config.DLQMaxRetries,
	}

	data, err := dlqMsg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	msg := nats.NewMsg(SubjectDLQ)
	msg.Data = data
	msg.Header.Set(HeaderOriginalSubject, originalMsg.Subject)
	msg.Header.Set(HeaderFailedAt, dlqMsg.FailedAt.Format(time.RFC3339))
	msg.Header.Set(HeaderRetries, strconv.Itoa(retries))
	if appKey := originalMsg.Header.Get(HeaderAppKey); appKey != "" {
		msg.Header.Set(HeaderAppKey, appKey)
	}

	if _, err := h.client.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	telemetry.RecordDLQMessage(reasonOf(cause))
	return nil
}

// ProcessDLQ consumes the DLQ until ctx is cancelled, republishing
// messages whose backoff has elapsed
func (h *DLQHandler) ProcessDLQ(ctx context.Context) error {
	if _, err := h.client.CreateConsumer(h.config.DLQStreamName, h.consumerName(), SubjectDLQ); err != nil {
		return fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	sub, err := h.client.js.PullSubscribe(
		SubjectDLQ,
		h.consumerName(),
		nats.ManualAck(),
		nats.Bind(h.config.DLQStreamName, h.consumerName()),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to DLQ: %w", err)
	}
	defer sub.Unsubscribe()

	log := telemetry.WithFields(map[string]interface{}{"component": "dlq"})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return fmt.Errorf("failed to fetch DLQ messages: %w", err)
		}

		for _, msg := range msgs {
			err := h.processDLQMessage(ctx, msg)
			switch {
			case err == nil:
				msg.Ack()
			case errors.Is(err, ErrRetryNotDue):
				msg.NakWithDelay(h.config.DLQRetryInterval)
			default:
				log.WithError(err).Warn("Failed to process DLQ message")
				msg.Nak()
			}
		}
	}
}

func (h *DLQHandler) processDLQMessage(ctx context.Context, msg *nats.Msg) error {
	dlqMsg, err := UnmarshalDLQMessage(msg.Data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal DLQ message: %w", err)
	}

	switch next, action := h.nextRetry(dlqMsg, time.Now()); action {
	case retryExhausted:
		telemetry.WithFields(map[string]interface{}{
			"subject": dlqMsg.OriginalSubject,
			"retries": dlqMsg.Retries,
			"error":   dlqMsg.Error,
		}).Error("DLQ message exceeded max retries, dropping")
		telemetry.RecordDLQMessage("exhausted")
		return nil
	case retryWait:
		return fmt.Errorf("%w: next retry at %v", ErrRetryNotDue, next)
	}

	return h.retryOriginalMessage(ctx, dlqMsg)
}

type retryAction int

const (
	retryNow retryAction = iota
	retryWait
	retryExhausted
)

// nextRetry applies linear backoff: attempt n waits n*DLQRetryInterval
// after the failure
func (h *DLQHandler) nextRetry(m *DLQMessage, now time.Time) (time.Time, retryAction) {
	if m.Retries >= m.MaxRetries {
		return time.Time{}, retryExhausted
	}
	next := m.FailedAt.Add(h.config.DLQRetryInterval * time.Duration(m.Retries+1))
	if now.Before(next) {
		return next, retryWait
	}
	return next, retryNow
}

func (h *DLQHandler) retryOriginalMessage(ctx context.Context, dlqMsg *DLQMessage) error {
	if dlqMsg.OriginalSubject != SubjectCommands {
		return fmt.Errorf("unknown original subject: %s", dlqMsg.OriginalSubject)
	}

	original, err := UnmarshalCommandMessage(dlqMsg.OriginalMessage)
	if err != nil {
		return fmt.Errorf("DLQ payload is not a command message: %w", err)
	}

	msg := nats.NewMsg(dlqMsg.OriginalSubject)
	msg.Data = dlqMsg.OriginalMessage
	msg.Header.Set(HeaderRetries, strconv.Itoa(dlqMsg.Retries+1))
	msg.Header.Set(HeaderDLQRetry, "true")
	msg.Header.Set(HeaderAppKey, original.AppKey)

	// A fresh dedup id: the original id is still inside the duplicate window
	// on fast retries and would be dropped by the stream.
	dedup := fmt.Sprintf("%s-r%d", original.ID, dlqMsg.Retries+1)
	if _, err := h.client.js.PublishMsg(msg, nats.MsgId(dedup), nats.Context(ctx)); err != nil {
		return fmt.Errorf("retry publish failed: %w", err)
	}

	telemetry.WithFields(map[string]interface{}{
		"message_id": original.ID,
		"app_key":    original.AppKey,
		"attempt":    dlqMsg.Retries + 1,
	}).Info("Retried command from DLQ")
	return nil
}

// GetDLQStats returns statistics about the DLQ
func (h *DLQHandler) GetDLQStats() (*DLQStats, error) {
	streamInfo, err := h.client.StreamInfo(h.config.DLQStreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ stream info: %w", err)
	}

	stats := &DLQStats{
		TotalMessages: streamInfo.State.Msgs,
		StreamBytes:   streamInfo.State.Bytes,
		OldestMessage: streamInfo.State.FirstTime,
		NewestMessage: streamInfo.State.LastTime,
	}

	// The consumer only exists once a worker has started the DLQ loop.
	if consumerInfo, err := h.client.ConsumerInfo(h.config.DLQStreamName, h.consumerName()); err == nil {
		stats.PendingMessages = consumerInfo.NumPending
	}

	return stats, nil
}

// PurgeDLQ removes all messages from the DLQ
func (h *DLQHandler) PurgeDLQ(ctx context.Context) error {
	if err := h.client.js.PurgeStream(h.config.DLQStreamName, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to purge DLQ: %w", err)
	}
	return nil
}

// DLQStats represents statistics about the DLQ
type DLQStats struct {
	TotalMessages   uint64    `json:"total_messages"`
	PendingMessages uint64    `json:"pending_messages"`
	StreamBytes     uint64    `json:"stream_bytes"`
	OldestMessage   time.Time `json:"oldest_message"`
	NewestMessage   time.Time `json:"newest_message"`
}

// RetryCount reads the retry header, 0 when absent or malformed
func RetryCount(h nats.Header) int {
	if h == nil {
		return 0
	}
	n, err := strconv.Atoi(h.Get(HeaderRetries))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func reasonOf(err error) string {
	var ce interface{ Reason() string }
	if errors.As(err, &ce) {
		return ce.Reason()
	}
	return "journal_error"
}

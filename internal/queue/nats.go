package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/nats-io/nats.go"
)

// Client represents a NATS JetStream client
type Client struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config *Config
}

// NewClient connects to NATS and makes sure the command and DLQ streams exist
func NewClient(config *Config) (*Client, error) {
	log := telemetry.WithFields(map[string]interface{}{"component": "nats"})

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS error")
		}),
	}

	if config.User != "" && config.Password != "" {
		opts = append(opts, nats.UserInfo(config.User, config.Password))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{
		nc:     nc,
		js:     js,
		config: config,
	}

	if err := client.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return client, nil
}

func (c *Client) initializeStreams() error {
	commands := &nats.StreamConfig{
		Name:        c.config.StreamName,
		Description: "Countly command tuples awaiting journaling",
		Subjects:    []string{SubjectCommands},
		Retention:   nats.LimitsPolicy,
		MaxAge:      c.config.StreamMaxAge,
		MaxBytes:    c.config.StreamMaxBytes,
		MaxMsgs:     c.config.StreamMaxMsgs,
		MaxMsgSize:  c.config.StreamMaxMsgSize,
		Replicas:    c.config.StreamReplicas,
		Duplicates:  c.config.DuplicateWindow,
		Storage:     nats.FileStorage,
	}
	if err := c.ensureStream(commands); err != nil {
		return fmt.Errorf("failed to create/update command stream: %w", err)
	}

	dlq := &nats.StreamConfig{
		Name:        c.config.DLQStreamName,
		Description: "Countly commands that failed journaling",
		Subjects:    []string{SubjectDLQ},
		Retention:   nats.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    c.config.StreamMaxBytes / 10,
		MaxMsgs:     c.config.StreamMaxMsgs / 10,
		MaxMsgSize:  c.config.StreamMaxMsgSize * 2,
		Replicas:    c.config.StreamReplicas,
		Storage:     nats.FileStorage,
	}
	if err := c.ensureStream(dlq); err != nil {
		return fmt.Errorf("failed to create/update DLQ stream: %w", err)
	}

	return nil
}

func (c *Client) ensureStream(cfg *nats.StreamConfig) error {
	if _, err := c.js.AddStream(cfg); err != nil {
		if _, err := c.js.UpdateStream(cfg); err != nil {
			return err
		}
	}
	return nil
}

// PublishCommand publishes msg on the command subject and waits for the
// stream ack. The message id doubles as the JetStream dedup id.
func (c *Client) PublishCommand(ctx context.Context, msg *CommandMessage) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal command message: %w", err)
	}

	out := nats.NewMsg(SubjectCommands)
	out.Data = data
	out.Header.Set(HeaderAppKey, msg.AppKey)

	if _, err := c.js.PublishMsg(out, nats.MsgId(msg.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish command message: %w", err)
	}
	return nil
}

// CreateConsumer creates or updates a durable pull consumer
func (c *Client) CreateConsumer(streamName, consumerName, filterSubject string) (*nats.ConsumerInfo, error) {
	consumerConfig := &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       c.config.ConsumerAckWait,
		MaxDeliver:    c.config.ConsumerMaxDeliver,
		MaxAckPending: c.config.ConsumerMaxAckPending,
		ReplayPolicy:  nats.ReplayInstantPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		FilterSubject: filterSubject,
	}

	info, err := c.js.AddConsumer(streamName, consumerConfig)
	if err != nil {
		info, err = c.js.UpdateConsumer(streamName, consumerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create/update consumer: %w", err)
		}
	}

	return info, nil
}

// Subscribe binds a pull subscription to the consumer and feeds fetched
// messages to handler until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, streamName, consumerName string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(
		"",
		consumerName,
		nats.ManualAck(),
		nats.Bind(streamName, consumerName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	go func() {
		for ctx.Err() == nil {
			msgs, err := sub.Fetch(c.config.BatchSize, nats.MaxWait(c.config.BatchTimeout))
			if err != nil {
				if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
					return
				}
				if !errors.Is(err, nats.ErrTimeout) {
					telemetry.WithError(err).WithField("consumer", consumerName).Warn("Error fetching messages")
				}
				continue
			}

			for _, msg := range msgs {
				handler(msg)
			}
		}
	}()

	return sub, nil
}

// Health checks the NATS connection health
func (c *Client) Health() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}

	if _, err := c.js.AccountInfo(); err != nil {
		return fmt.Errorf("JetStream health check failed: %w", err)
	}

	return nil
}

// Close drains and closes the NATS connection
func (c *Client) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

// StreamInfo returns information about a stream
func (c *Client) StreamInfo(streamName string) (*nats.StreamInfo, error) {
	return c.js.StreamInfo(streamName)
}

// ConsumerInfo returns information about a consumer
func (c *Client) ConsumerInfo(streamName, consumerName string) (*nats.ConsumerInfo, error) {
	return c.js.ConsumerInfo(streamName, consumerName)
}

// JetStream returns the JetStream context
func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}

// GetConfig returns the client configuration
func (c *Client) GetConfig() *Config {
	return c.config
}

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/birbparty/countly-nest/sdk"
)

// Publisher sends an encoded command message to a durable stream
type Publisher interface {
	PublishCommand(ctx context.Context, msg *CommandMessage) error
}

// CommandPublisher is an sdk.Queue that turns every pushed command into a
// CommandMessage for one app. Publishes are serialized so stream order
// follows push order.
type CommandPublisher struct {
	mu       sync.Mutex
	pub      Publisher
	appKey   string
	metadata map[string]string
	timeout  time.Duration
	ctx      context.Context
}

// PublisherOption configures a CommandPublisher
type PublisherOption func(*CommandPublisher)

// WithPublishTimeout bounds the wait for each stream ack
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *CommandPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMetadata attaches metadata to every published message
func WithMetadata(metadata map[string]string) PublisherOption {
	return func(p *CommandPublisher) {
		p.metadata = metadata
	}
}

// WithParentContext derives every publish context from ctx
func WithParentContext(ctx context.Context) PublisherOption {
	return func(p *CommandPublisher) {
		if ctx != nil {
			p.ctx = ctx
		}
	}
}

// NewCommandPublisher returns a queue publishing appKey's commands to pub
func NewCommandPublisher(pub Publisher, appKey string, opts ...PublisherOption) *CommandPublisher {
	p := &CommandPublisher{
		pub:     pub,
		appKey:  appKey,
		timeout: 5 * time.Second,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Push implements sdk.Queue
func (p *CommandPublisher) Push(cmd sdk.Command) error {
	msg, err := NewCommandMessage(p.appKey, cmd, p.metadata)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	done := telemetry.TimeOperation(ctx, "queue.publish")
	err = p.pub.PublishCommand(ctx, msg)
	done(telemetry.Status(err))
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", cmd.Tag(), p.appKey, err)
	}
	return nil
}

// AppKey returns the app the publisher writes for
func (p *CommandPublisher) AppKey() string {
	return p.appKey
}

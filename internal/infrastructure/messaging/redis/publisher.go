// Package redis forwards workflow events to Redis pub/sub and streams.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	backend "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/event"
)

// Publisher implements port.EventPublisher. Each event is published as JSON
// on the channel and, when a stream is configured, appended to the stream.
type Publisher struct {
	client    *backend.Client
	channel   string
	stream    string
	maxLen    int64
	ownClient bool
	logger    *zap.Logger
}

// Option configures the publisher
type Option func(*Publisher)

// WithChannel sets the pub/sub channel. Empty disables pub/sub.
func WithChannel(channel string) Option {
	return func(p *Publisher) {
		p.channel = channel
	}
}

// WithStream appends every event to the stream, trimmed to about maxLen entries
func WithStream(stream string, maxLen int64) Option {
	return func(p *Publisher) {
		p.stream = stream
		p.maxLen = maxLen
	}
}

// WithLogger sets the publisher logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewFromClient creates a publisher on an existing client. Close leaves the client open.
func NewFromClient(client *backend.Client, opts ...Option) *Publisher {
	p := &Publisher{
		client:  client,
		channel: "workflow:events",
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// New dials addr and verifies the connection
func New(ctx context.Context, addr, password string, db int, opts ...Option) (*Publisher, error) {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	p := NewFromClient(client, opts...)
	p.ownClient = true
	return p, nil
}

// Publish writes evt to the configured channel and stream
func (p *Publisher) Publish(ctx context.Context, evt *event.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}

	var errs []error
	if p.channel != "" {
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", p.channel, err))
		}
	}
	if p.stream != "" {
		subject := evt.Subject()
		args := &backend.XAddArgs{
			Stream: p.stream,
			Values: map[string]interface{}{
				"type":        evt.Type.String(),
				"instance_id": subject.InstanceID,
				"entity_type": subject.EntityType,
				"entity_id":   subject.EntityID,
				"event":       string(payload),
			},
		}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		if err := p.client.XAdd(ctx, args).Err(); err != nil {
			errs = append(errs, fmt.Errorf("append to %s: %w", p.stream, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.Error(err))
		return err
	}
	return nil
}

// Handler adapts the publisher for dispatcher.Subscribe
func (p *Publisher) Handler() dispatcher.Handler {
	return p.Publish
}

// Ping reports whether the server is reachable
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the client when the publisher created it
func (p *Publisher) Close() error {
	if !p.ownClient {
		return nil
	}
	return p.client.Close()
}

// Verify interface compliance
var _ port.EventPublisher = (*Publisher)(nil)

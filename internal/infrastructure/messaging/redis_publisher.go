package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/alem-gamification/internal/domain/shared"
	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// DefaultRankHistoryChannel is the channel rank transitions are published on.
const DefaultRankHistoryChannel = "gamification:rank_history"

// RedisPublisher forwards committed events to a redis pub/sub channel as
// JSON envelopes. It is registered on the local bus for the event types
// other services consume.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	newID   func() string
	logger  *logger.Logger
}

// RedisPublisherConfig contains configuration for RedisPublisher.
type RedisPublisherConfig struct {
	Client redis.UniversalClient

	// Channel defaults to DefaultRankHistoryChannel.
	Channel string

	// Timeout bounds a single publish. Default: 2s
	Timeout time.Duration

	Logger *logger.Logger
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(config RedisPublisherConfig) (*RedisPublisher, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = DefaultRankHistoryChannel
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	return &RedisPublisher{
		client:  config.Client,
		channel: config.Channel,
		timeout: config.Timeout,
		newID:   uuid.NewString,
		logger:  config.Logger.With(logger.Component("redis_publisher")),
	}, nil
}

// Channel returns the channel name.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Handle implements shared.EventHandler.
func (p *RedisPublisher) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.Publish(ctx, event)
}

// Publish sends one event envelope to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, event shared.Event) error {
	envelope, err := shared.NewEventEnvelope(p.newID(), event)
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}

	p.logger.Debug("event published",
		logger.String("event_type", string(event.EventType())),
		logger.String("aggregate_id", event.AggregateID()),
	)
	return nil
}

// Subscribe streams envelopes from the channel until ctx is done.
// Malformed messages are logged and skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan shared.EventEnvelope, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", p.channel, err)
	}

	out := make(chan shared.EventEnvelope)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var envelope shared.EventEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					p.logger.Warn("malformed envelope", logger.Err(err))
					continue
				}
				select {
				case out <- envelope:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

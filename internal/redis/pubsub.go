package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/events"
)

// Transport delivers events published on the per-stream pub/sub channels
type Transport struct {
	client *redis.Client
	keys   keys
	logger *slog.Logger
}

// NewTransport creates a new pub/sub Transport
func NewTransport(client *redis.Client, prefix string, logger *slog.Logger) *Transport {
	return &Transport{
		client: client,
		keys:   keys{prefix: prefix},
		logger: logger,
	}
}

// Name implements events.Transport
func (t *Transport) Name() string {
	return config.TransportRedis
}

// Listen subscribes to every stream channel until ctx is cancelled or the
// subscription breaks
func (t *Transport) Listen(ctx context.Context, deliver func(events.Event)) error {
	channels := make([]string, len(events.Streams))
	for i, stream := range events.Streams {
		channels[i] = t.keys.channel(stream)
	}

	pubsub := t.client.Subscribe(ctx, channels...)
	defer pubsub.Close()

	// Wait for confirmation so connection errors surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %v: %w", channels, err)
	}
	t.logger.Info("subscribed to redis channels", "channels", channels)

	// A blocked read does not watch ctx; closing the subscription ends it
	stop := context.AfterFunc(ctx, func() { pubsub.Close() })
	defer stop()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving message: %w", err)
		}

		stream, ok := t.streamOf(msg.Channel)
		if !ok {
			continue
		}
		ev := events.Event{Stream: stream, ReceivedAt: time.Now()}
		if msg.Payload != "" {
			ev.Payload = []byte(msg.Payload)
		}
		deliver(ev)
	}
}

func (t *Transport) streamOf(channel string) (string, bool) {
	return strings.CutPrefix(channel, t.keys.channel(""))
}

// Publisher publishes raw JSON payloads on the per-stream channels
type Publisher struct {
	client *redis.Client
	keys   keys
}

// NewPublisher creates a new Publisher
func NewPublisher(client *redis.Client, prefix string) *Publisher {
	return &Publisher{client: client, keys: keys{prefix: prefix}}
}

// Publish implements events.Publisher
func (p *Publisher) Publish(ctx context.Context, stream string, payload any) error {
	data, err := events.MarshalPayload(payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.keys.channel(stream), data).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", stream, err)
	}
	return nil
}

// Close closes the underlying client
func (p *Publisher) Close() error {
	return p.client.Close()
}

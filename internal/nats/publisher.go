package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/triple-jay-dashboard/internal/events"
)

// Publisher publishes raw JSON payloads on prefix.<stream> subjects
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher creates a new Publisher on an open connection
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: prefix}
}

// Publish implements events.Publisher
func (p *Publisher) Publish(ctx context.Context, stream string, payload any) error {
	data, err := events.MarshalPayload(payload)
	if err != nil {
		return err
	}
	subject := Subject(p.prefix, stream)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	// Publish is buffered; flush so short-lived callers do not lose it
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection
func (p *Publisher) Close() error {
	return p.nc.Drain()
}

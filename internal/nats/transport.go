package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/events"
)

// ErrConnectionClosed is returned by Listen when the client gives up reconnecting
var ErrConnectionClosed = errors.New("nats connection closed")

// Connect opens a NATS connection that logs its lifecycle on logger
func Connect(cfg *config.NATSConfig, logger *slog.Logger, extra ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("dashboard"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", "error", err)
		}),
	}

	nc, err := nats.Connect(cfg.URL, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Subject returns the subject stream is published on
func Subject(prefix, stream string) string {
	return prefix + "." + stream
}

// Transport delivers events published on prefix.<stream> subjects
type Transport struct {
	config *config.NATSConfig
	logger *slog.Logger
}

// NewTransport creates a new NATS Transport
func NewTransport(cfg *config.NATSConfig, logger *slog.Logger) *Transport {
	return &Transport{config: cfg, logger: logger}
}

// Name implements events.Transport
func (t *Transport) Name() string {
	return config.TransportNATS
}

// Listen connects and subscribes to every stream subject until ctx is
// cancelled or the connection is closed for good
func (t *Transport) Listen(ctx context.Context, deliver func(events.Event)) error {
	closed := make(chan struct{})
	nc, err := Connect(t.config, t.logger, nats.ClosedHandler(func(*nats.Conn) {
		close(closed)
	}))
	if err != nil {
		return err
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 64)
	wildcard := t.config.SubjectPrefix + ".>"
	sub, err := nc.ChanSubscribe(wildcard, msgs)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", wildcard, err)
	}
	defer sub.Unsubscribe()

	t.logger.Info("subscribed to NATS subjects", "subject", wildcard, "url", nc.ConnectedUrl())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return ErrConnectionClosed
		case msg := <-msgs:
			stream, ok := t.streamOf(msg.Subject)
			if !ok {
				continue
			}
			ev := events.Event{Stream: stream, ReceivedAt: time.Now()}
			if len(msg.Data) > 0 {
				ev.Payload = msg.Data
			}
			deliver(ev)
		}
	}
}

func (t *Transport) streamOf(subject string) (string, bool) {
	return strings.CutPrefix(subject, t.config.SubjectPrefix+".")
}

package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/domain"
	"github.com/triple-jay-dashboard/internal/metrics"
)

// Transport connects to a push-event source and delivers events until the
// connection is lost or ctx is cancelled. deliver may be called from any goroutine.
type Transport interface {
	Name() string
	Listen(ctx context.Context, deliver func(Event)) error
}

// Handler receives events of one stream
type Handler func(ctx context.Context, ev Event)

// Channel owns the single connection to the push-event source and fans
// events out to the handlers subscribed to each stream
type Channel struct {
	transport Transport
	reconnect config.ReconnectConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// Context for the connection lifetime
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
	started  bool
	closed   bool
}

// NewChannel creates a new Channel. No connection is made until the first Subscribe.
func NewChannel(transport Transport, cfg config.ReconnectConfig, m *metrics.Metrics, logger *slog.Logger) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		transport: transport,
		reconnect: cfg,
		logger:    logger.With("transport", transport.Name()),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		handlers:  make(map[string]map[uint64]Handler),
	}
}

// Subscribe registers h for stream and connects on first use. The returned
// func removes the handler; calling it more than once is harmless.
func (c *Channel) Subscribe(stream string, h Handler) (func(), error) {
	if !KnownStream(stream) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStream, stream)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, domain.ErrChannelClosed
	}

	c.nextID++
	id := c.nextID
	if _, ok := c.handlers[stream]; !ok {
		c.handlers[stream] = make(map[uint64]Handler)
	}
	c.handlers[stream][id] = h

	if !c.started {
		c.started = true
		go c.run()
	}

	c.logger.Debug("handler subscribed", "stream", stream, "handler_id", id)

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(stream, id) })
	}, nil
}

func (c *Channel) unsubscribe(stream string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hs, ok := c.handlers[stream]; ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(c.handlers, stream)
		}
	}
	c.logger.Debug("handler unsubscribed", "stream", stream, "handler_id", id)
}

// HandlerCount returns the number of handlers subscribed to stream
func (c *Channel) HandlerCount(stream string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[stream])
}

// Close tears down the connection and drops every handler
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.handlers = make(map[string]map[uint64]Handler)
	c.mu.Unlock()

	c.cancel()
	if started {
		<-c.done
	}
	c.logger.Info("event channel closed")
	return nil
}

// run keeps the transport connected until Close
func (c *Channel) run() {
	defer close(c.done)

	b := c.newBackOff()
	failures := 0

	for {
		var delivered atomic.Bool
		c.logger.Info("connecting event channel")
		err := c.transport.Listen(c.ctx, func(ev Event) {
			delivered.Store(true)
			c.dispatch(ev)
		})

		if c.ctx.Err() != nil {
			return
		}

		if delivered.Load() {
			b.Reset()
			failures = 0
		}
		failures++

		if c.reconnect.MaxAttempts > 0 && failures >= c.reconnect.MaxAttempts {
			c.logger.Error("event channel giving up after repeated failures",
				"attempts", failures,
				"error", err,
			)
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Error("event channel backoff exhausted", "error", err)
			return
		}

		c.logger.Warn("event channel disconnected, reconnecting",
			"error", err,
			"retry_in", wait,
			"attempt", failures,
		)
		c.metrics.IncReconnect(c.transport.Name())

		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Channel) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.reconnect.InitialInterval
	b.MaxInterval = c.reconnect.MaxInterval
	b.Multiplier = c.reconnect.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// dispatch hands ev to every handler of its stream
func (c *Channel) dispatch(ev Event) {
	if !KnownStream(ev.Stream) {
		c.metrics.IncEventError(ev.Stream, "unknown_stream")
		c.logger.Warn("dropping event for unknown stream", "stream", ev.Stream)
		return
	}
	c.metrics.IncEvent(ev.Stream)

	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[ev.Stream]))
	for _, h := range c.handlers[ev.Stream] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		c.invoke(h, ev)
	}
}

func (c *Channel) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.IncEventError(ev.Stream, "panic")
			c.logger.Error("event handler panicked", "stream", ev.Stream, "panic", fmt.Sprint(r))
		}
	}()
	h(c.ctx, ev)
}

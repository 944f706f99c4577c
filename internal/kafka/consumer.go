package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/events"
	"github.com/triple-jay-dashboard/internal/metrics"
)

// Transport consumes event envelopes from a Kafka topic as one consumer group member
type Transport struct {
	config  *config.KafkaConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewTransport creates a new Kafka Transport
func NewTransport(cfg *config.KafkaConfig, m *metrics.Metrics, logger *slog.Logger) *Transport {
	return &Transport{
		config:  cfg,
		logger:  logger,
		metrics: m,
	}
}

// Name implements events.Transport
func (t *Transport) Name() string {
	return config.TransportKafka
}

func newConsumerConfig() *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	// Events that happened while disconnected are stale; a refresh on reconnect covers them
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true
	return saramaConfig
}

// Listen joins the consumer group and delivers events until ctx is
// cancelled or the group fails
func (t *Transport) Listen(ctx context.Context, deliver func(events.Event)) error {
	t.logger.Info("starting Kafka consumer",
		"brokers", t.config.Brokers,
		"topic", t.config.Topic,
		"group_id", t.config.GroupID,
	)

	consumerGroup, err := sarama.NewConsumerGroup(t.config.Brokers, t.config.GroupID, newConsumerConfig())
	if err != nil {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	defer consumerGroup.Close()

	ctx, cancel := context.WithCancel(ctx)

	// Handle errors in separate goroutine
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-consumerGroup.Errors():
				if !ok {
					return
				}
				t.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	handler := &consumerGroupHandler{transport: t, deliver: deliver}
	for {
		// Consume returns on every rebalance
		if err := consumerGroup.Consume(ctx, []string{t.config.Topic}, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("consuming %s: %w", t.config.Topic, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	transport *Transport
	deliver   func(events.Event)
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.transport.logger.Info("Kafka consumer ready", "claims", session.Claims())
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim decodes messages from a topic partition, one envelope per message
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			ev, err := events.Decode(message.Value)
			if err != nil {
				h.transport.metrics.IncEventError("unknown", events.ErrorReason(err))
				h.transport.logger.Warn("failed to decode message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			h.deliver(ev)
			session.MarkMessage(message, "")
		}
	}
}

package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/triple-jay-dashboard/internal/config"
	"github.com/triple-jay-dashboard/internal/events"
)

// Publisher writes event envelopes to the dashboard topic
type Publisher struct {
	topic    string
	producer sarama.SyncProducer
}

// NewPublisher creates a synchronous producer for cfg.Topic
func NewPublisher(cfg *config.KafkaConfig) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return &Publisher{topic: cfg.Topic, producer: producer}, nil
}

// Publish implements events.Publisher. Messages are keyed by stream so each
// stream stays ordered within its partition.
func (p *Publisher) Publish(ctx context.Context, stream string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := events.Encode(stream, payload)
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(stream),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", stream, err)
	}
	return nil
}

// Close flushes and closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}

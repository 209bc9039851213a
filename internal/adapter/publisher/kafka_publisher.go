package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ressKim-io/leafscan/internal/domain/service"
)

// messageWriter is the subset of kafka.Writer used by the publisher
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes classification events to a Kafka topic
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
// The connection is established lazily on the first write.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) service.EventPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(writer, topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Publish writes event keyed by session so one session's events stay ordered
func (p *KafkaPublisher) Publish(ctx context.Context, event *service.ClassificationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to %s: %w", p.topic, err)
	}

	p.logger.Debug("Classification event published",
		zap.String("topic", p.topic),
		zap.String("record_id", event.RecordID),
	)
	return nil
}

// Close flushes pending messages and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

// NewNopPublisher creates a NopPublisher
func NewNopPublisher() service.EventPublisher {
	return NopPublisher{}
}

// Publish does nothing
func (NopPublisher) Publish(context.Context, *service.ClassificationEvent) error {
	return nil
}

// Close does nothing
func (NopPublisher) Close() error {
	return nil
}

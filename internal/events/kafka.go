package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// CompensationTopic is the Kafka topic compensation events publish to.
const CompensationTopic = "payouts.compensation"

// KafkaEmitter publishes compensation events to Kafka, keyed by saga
// ID so one saga's events stay ordered within a partition.
type KafkaEmitter struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaWriter builds a writer for the compensation topic.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        CompensationTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewKafkaEmitter creates a Kafka-backed emitter.
func NewKafkaEmitter(writer *kafka.Writer, logger *slog.Logger) *KafkaEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaEmitter{writer: writer, logger: logger}
}

// Emit implements Emitter.
func (e *KafkaEmitter) Emit(ctx context.Context, event *CompensationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding compensation event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.SagaID),
		Value: data,
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing compensation event: %w", err)
	}

	e.logger.Info("compensation event published",
		"topic", CompensationTopic,
		"saga_id", event.SagaID,
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}

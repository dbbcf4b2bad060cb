package kafkabus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/septivank/telemetry-ingestion-service/internal/events"
	"go.uber.org/zap"
)

// writeTimeout bounds one publish so an unreachable broker cannot stall the caller
const writeTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer used here
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer streams ingested events to a Kafka topic keyed by device id, so every
// reading of one device lands on the same partition
type Writer struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewWriter creates a synchronous writer for topic
func NewWriter(brokers []string, topic string, logger *zap.Logger) *Writer {
	return newWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, topic, logger)
}

func newWriter(w MessageWriter, topic string, logger *zap.Logger) *Writer {
	return &Writer{
		writer: w,
		topic:  topic,
		logger: logger.With(zap.String("component", "kafka-writer"), zap.String("topic", topic)),
	}
}

// Publish implements events.Publisher
func (w *Writer) Publish(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.DeviceID),
		Value: body,
		Time:  event.IngestedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "type", Value: []byte(event.Type)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}

	w.logger.Debug("event written", zap.String("event_id", event.EventID), zap.String("device_id", event.DeviceID))
	return nil
}

// Close flushes pending messages and closes the writer
func (w *Writer) Close() error {
	return w.writer.Close()
}

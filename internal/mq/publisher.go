package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/telemetry-ingestion-service/internal/events"
	"go.uber.org/zap"
)

// Publisher emits ingested events on a topic exchange
type Publisher struct {
	mu            sync.Mutex
	channel       *amqp.Channel
	exchange      string
	routingPrefix string
	logger        *zap.Logger
}

// NewPublisher opens a channel and declares the events exchange
func NewPublisher(conn *Connection, exchange, routingPrefix string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopicExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		channel:       ch,
		exchange:      exchange,
		routingPrefix: routingPrefix,
		logger:        logger,
	}, nil
}

// RoutingKey returns <prefix>.<type>.ingested
func RoutingKey(prefix, deviceType string) string {
	return fmt.Sprintf("%s.%s.ingested", prefix, deviceType)
}

// Publish implements events.Publisher
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := RoutingKey(p.routingPrefix, event.Type)

	// amqp channels are not safe for concurrent publishes
	p.mu.Lock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.EventID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to publish event to rabbitmq: %w", err)
	}

	p.logger.Debug("published ingested event",
		zap.String("routing_key", routingKey),
		zap.String("event_id", event.EventID),
		zap.String("device_id", event.DeviceID),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

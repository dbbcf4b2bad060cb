package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MessageHandler processes one delivery body. A non-nil error dead-letters the message.
type MessageHandler func(ctx context.Context, body []byte) error

// Ingester accepts one decoded telemetry payload
type Ingester interface {
	Ingest(ctx context.Context, payload map[string]any) (*telemetry.Ack, error)
}

// NewIngestHandler decodes each body as a single JSON payload and ingests it
func NewIngestHandler(ingester Ingester) MessageHandler {
	return func(ctx context.Context, body []byte) error {
		payload, err := telemetry.DecodePayload(body)
		if err != nil {
			return err
		}
		_, err = ingester.Ingest(ctx, payload)
		return err
	}
}

// Consumer reads telemetry payloads from the ingest queue
type Consumer struct {
	channel        *amqp.Channel
	queue          string
	prefetchCount  int
	messageTimeout time.Duration
	logger         *zap.Logger
	handler        MessageHandler

	wg sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection     *Connection
	Queue          string
	DLQQueue       string
	Exchange       string
	RoutingKey     string
	PrefetchCount  int
	MessageTimeout time.Duration
	Logger         *zap.Logger
	Handler        MessageHandler
}

// NewConsumer declares the ingest topology and returns a consumer bound to it
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareTopicExchange(ch, cfg.Exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare the DLQ before the queue that dead-letters into it
	if _, err := ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare DLQ: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQQueue,
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		// A failed declare closes the channel, so retry without DLX on a fresh one
		cfg.Logger.Warn("failed to declare queue with DLX, trying without DLX", zap.Error(err))
		ch, err = cfg.Connection.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to reopen channel: %w", err)
		}
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
		if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare queue: %w", err)
		}
	}

	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &Consumer{
		channel:        ch,
		queue:          cfg.Queue,
		prefetchCount:  cfg.PrefetchCount,
		messageTimeout: cfg.MessageTimeout,
		logger:         cfg.Logger,
		handler:        cfg.Handler,
	}, nil
}

// Start starts consuming messages until ctx is cancelled or the channel closes
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started",
		zap.String("queue", c.queue),
		zap.Int("prefetch", c.prefetchCount),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	logger := c.logger.With(
		zap.String("message_id", msg.MessageId),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)

	// An in-flight message outlives consumer shutdown, bounded by messageTimeout.
	msgCtx := context.WithoutCancel(ctx)
	if c.messageTimeout > 0 {
		var cancel context.CancelFunc
		msgCtx, cancel = context.WithTimeout(msgCtx, c.messageTimeout)
		defer cancel()
	}

	if err := c.handler(msgCtx, msg.Body); err != nil {
		if ctx.Err() != nil && !telemetry.IsClientError(err) {
			logger.Warn("message interrupted by shutdown, requeueing", zap.Error(err))
			if nackErr := msg.Nack(false, true); nackErr != nil {
				logger.Error("failed to NACK message", zap.Error(nackErr))
			}
			return
		}

		logger.Error("failed to process message, dead-lettering",
			zap.String("kind", telemetry.ErrorKind(err)),
			zap.Error(err),
		)

		// NACK with requeue=false sends to DLQ
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error("failed to NACK message", zap.Error(nackErr))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("failed to ACK message", zap.Error(err))
		return
	}
	logger.Debug("message processed and acknowledged")
}

// Close closes the consumer channel and waits for the in-flight message
func (c *Consumer) Close() error {
	var err error
	if c.channel != nil {
		err = c.channel.Close()
	}
	c.wg.Wait()
	return err
}

// RegisterLifecycle runs the consumer between fx start and stop
func (c *Consumer) RegisterLifecycle(lc fx.Lifecycle) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return c.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			if err := c.Close(); err != nil {
				c.logger.Error("failed to close consumer channel", zap.Error(err))
				return err
			}
			c.logger.Info("consumer stopped")
			return nil
		},
	})
}

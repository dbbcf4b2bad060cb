package mqttsub

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/septivank/telemetry-ingestion-service/internal/metrics"
	"github.com/septivank/telemetry-ingestion-service/internal/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Ingester accepts one decoded telemetry payload
type Ingester interface {
	Ingest(ctx context.Context, payload map[string]any) (*telemetry.Ack, error)
}

const connectWait = 5 * time.Second

// Config holds broker settings for the device subscriber
type Config struct {
	BrokerURL      string
	ClientID       string
	Topic          string
	QoS            byte
	Username       string
	Password       string
	MessageTimeout time.Duration
}

// Subscriber ingests JSON payloads that devices publish over MQTT.
// MQTT has no dead-letter path, so rejected messages are logged and counted.
type Subscriber struct {
	cfg      Config
	client   mqtt.Client
	ingester Ingester
	metrics  *metrics.Metrics
	logger   *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewSubscriber creates a subscriber; call Start to connect
func NewSubscriber(cfg Config, ingester Ingester, m *metrics.Metrics, logger *zap.Logger) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		cfg:      cfg,
		ingester: ingester,
		metrics:  m,
		logger:   logger.With(zap.String("component", "mqtt-subscriber"), zap.String("topic", cfg.Topic)),
		ctx:      ctx,
		cancel:   cancel,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false).
		SetOrderMatters(false).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. Subscription happens in the connect handler so it
// is restored after every reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	s.started = true
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("[MQTT] failed to connect to %s: %w", s.cfg.BrokerURL, err)
		}
	case <-time.After(connectWait):
		// ConnectRetry keeps trying in the background
		s.logger.Warn("mqtt broker not reachable yet, retrying in background")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Stop unsubscribes and disconnects
func (s *Subscriber) Stop() {
	s.cancel()
	if !s.started {
		return
	}
	if s.client.IsConnectionOpen() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
	s.logger.Info("mqtt subscriber stopped")
}

// RegisterLifecycle connects on fx start and disconnects on stop
func (s *Subscriber) RegisterLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	s.logger.Info("connected to mqtt broker", zap.String("broker", s.cfg.BrokerURL))

	token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(s.ctx, msg.Topic(), msg.Payload())
	})
	// Waiting here would block paho's connect goroutine, so check asynchronously
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			s.logger.Error("failed to subscribe", zap.Error(err))
			return
		}
		s.logger.Info("subscribed", zap.Uint8("qos", s.cfg.QoS))
	}()
}

func (s *Subscriber) handle(ctx context.Context, topic string, body []byte) {
	msgCtx := ctx
	if s.cfg.MessageTimeout > 0 {
		var cancel context.CancelFunc
		msgCtx, cancel = context.WithTimeout(ctx, s.cfg.MessageTimeout)
		defer cancel()
	}

	payload, err := telemetry.DecodePayload(body)
	if err != nil {
		s.logger.Warn("dropping malformed mqtt message", zap.String("message_topic", topic), zap.Error(err))
		s.metrics.Ingest("", telemetry.KindMalformedPayload, 0)
		return
	}

	ack, err := s.ingester.Ingest(msgCtx, payload)
	if err != nil {
		s.logger.Warn("dropping rejected mqtt message",
			zap.String("message_topic", topic),
			zap.String("kind", telemetry.ErrorKind(err)),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("mqtt message ingested",
		zap.String("message_topic", topic),
		zap.String("device_id", ack.DeviceID),
	)
}

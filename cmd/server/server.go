package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/septivank/telemetry-ingestion-service/internal/config"
	"github.com/septivank/telemetry-ingestion-service/internal/db"
	"github.com/septivank/telemetry-ingestion-service/internal/events"
	"github.com/septivank/telemetry-ingestion-service/internal/httpapi"
	"github.com/septivank/telemetry-ingestion-service/internal/kafkabus"
	"github.com/septivank/telemetry-ingestion-service/internal/metrics"
	"github.com/septivank/telemetry-ingestion-service/internal/mq"
	"github.com/septivank/telemetry-ingestion-service/internal/mqttsub"
	"github.com/septivank/telemetry-ingestion-service/internal/repository"
	"github.com/septivank/telemetry-ingestion-service/internal/service"
	"github.com/septivank/telemetry-ingestion-service/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideMetrics creates the prometheus collectors
func ProvideMetrics() *metrics.Metrics {
	return metrics.NewMetrics()
}

// ProvideStore opens the configured store driver
func ProvideStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (repository.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		handle, err := db.NewSQLite(lc, logger, cfg.Database.SQLitePath, cfg.Database.AutoSchema)
		if err != nil {
			return nil, err
		}
		return repository.NewSQLiteRepository(handle), nil
	default:
		pool, err := db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.AutoSchema)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresRepository(pool), nil
	}
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.MaxFutureSkewMinutes)
}

// ProvideMQConnection dials RabbitMQ, or returns nil when AMQP is not configured
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.RabbitMQ.Enabled() {
		logger.Info("RABBITMQ_URL not set, amqp consumer and publisher disabled")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideEventPublisher fans ingested events out to every configured sink
func ProvideEventPublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*events.Fanout, error) {
	var sinks []events.Publisher

	if conn != nil {
		publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, cfg.RabbitMQ.EventsRoutingPrefix, logger)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return publisher.Close()
			},
		})
		sinks = append(sinks, publisher)
	}

	if cfg.Kafka.Enabled() {
		writer := kafkabus.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, logger)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return writer.Close()
			},
		})
		sinks = append(sinks, writer)
	}

	fanout := events.NewFanout(sinks...)
	logger.Info("event publishing configured", zap.Int("sinks", fanout.Len()))
	return fanout, nil
}

// ProvideIngestionService creates the dual-write ingestion service
func ProvideIngestionService(
	store repository.Store,
	validator *validator.Validator,
	publisher *events.Fanout,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.IngestionService {
	return service.NewIngestionService(store, validator, publisher, m, logger)
}

// ProvideAnalyticsService creates the performance analytics service
func ProvideAnalyticsService(store repository.Store, m *metrics.Metrics, logger *zap.Logger) *service.AnalyticsService {
	return service.NewAnalyticsService(store, m, logger)
}

// ProvideStateService creates the latest-state lookup service
func ProvideStateService(store repository.Store) *service.StateService {
	return service.NewStateService(store)
}

func startHTTPServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	store repository.Store,
	ingestion *service.IngestionService,
	analytics *service.AnalyticsService,
	state *service.StateService,
	m *metrics.Metrics,
) {
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.ServicePort),
		Handler: httpapi.NewRouter(httpapi.Deps{
			Ingestion: ingestion,
			Analytics: analytics,
			State:     state,
			Store:     store,
			Metrics:   m,
			Logger:    logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("[HTTP] failed to listen on %s: %w", srv.Addr, err)
			}
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down http server")
			return srv.Shutdown(ctx)
		},
	})
}

func startConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	ingestion *service.IngestionService,
) error {
	if conn == nil {
		return nil
	}

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:     conn,
		Queue:          cfg.RabbitMQ.IngestQueue,
		DLQQueue:       cfg.RabbitMQ.DLQQueue,
		Exchange:       cfg.RabbitMQ.IngestExchange,
		RoutingKey:     cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount:  cfg.RabbitMQ.PrefetchCount,
		MessageTimeout: cfg.RequestTimeout,
		Logger:         logger.Named("amqp-consumer"),
		Handler:        mq.NewIngestHandler(ingestion),
	})
	if err != nil {
		return err
	}

	consumer.RegisterLifecycle(lc)
	return nil
}

func startMQTTSubscriber(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	ingestion *service.IngestionService,
	m *metrics.Metrics,
) {
	if !cfg.MQTT.Enabled() {
		logger.Info("MQTT_BROKER_URL not set, mqtt subscriber disabled")
		return
	}

	subscriber := mqttsub.NewSubscriber(mqttsub.Config{
		BrokerURL:      cfg.MQTT.BrokerURL,
		ClientID:       cfg.MQTT.ClientID,
		Topic:          cfg.MQTT.Topic,
		QoS:            byte(cfg.MQTT.QoS),
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		MessageTimeout: cfg.RequestTimeout,
	}, ingestion, m, logger)

	subscriber.RegisterLifecycle(lc)
}

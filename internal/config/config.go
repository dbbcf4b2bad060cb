package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	ServiceName    string
	ServicePort    int
	LogLevel       string
	RequestTimeout time.Duration
	Database       DatabaseConfig
	RabbitMQ       RabbitMQConfig
	Kafka          KafkaConfig
	MQTT           MQTTConfig
	Validation     ValidationConfig
}

// DatabaseConfig holds store selection and connection settings
type DatabaseConfig struct {
	Driver     string
	URL        string
	SQLitePath string
	AutoSchema bool
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL                 string
	IngestExchange      string
	IngestQueue         string
	IngestRoutingKey    string
	EventsExchange      string
	EventsRoutingPrefix string
	DLQQueue            string
	PrefetchCount       int
}

// KafkaConfig holds ingested-event stream settings
type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

// MQTTConfig holds device broker settings
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Topic     string
	QoS       int
	Username  string
	Password  string
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	MaxFutureSkewMinutes int
}

// Enabled reports whether an AMQP broker is configured
func (c RabbitMQConfig) Enabled() bool { return c.URL != "" }

// Enabled reports whether Kafka brokers are configured
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// Enabled reports whether an MQTT broker is configured
func (c MQTTConfig) Enabled() bool { return c.BrokerURL != "" }

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:    getEnv("SERVICE_NAME", "telemetry-ingestion-service"),
		ServicePort:    getEnvAsInt("SERVICE_PORT", 8080),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RequestTimeout: time.Duration(getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
			URL:        getEnv("DATABASE_URL", ""),
			SQLitePath: getEnv("SQLITE_PATH", "data/telemetry.db"),
			AutoSchema: getEnvAsBool("DB_AUTO_SCHEMA", true),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                 getEnv("RABBITMQ_URL", ""),
			IngestExchange:      getEnv("RABBITMQ_INGEST_EXCHANGE", "telemetry.ingest.exchange"),
			IngestQueue:         getEnv("RABBITMQ_INGEST_QUEUE", "telemetry.ingest.queue"),
			IngestRoutingKey:    getEnv("RABBITMQ_INGEST_ROUTING_KEY", "telemetry.reading.raw"),
			EventsExchange:      getEnv("RABBITMQ_EVENTS_EXCHANGE", "telemetry.events.exchange"),
			EventsRoutingPrefix: getEnv("RABBITMQ_EVENTS_ROUTING_PREFIX", "telemetry"),
			DLQQueue:            getEnv("RABBITMQ_DLQ_QUEUE", "telemetry.ingest.dlq"),
			PrefetchCount:       getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsList("KAFKA_BROKERS"),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "telemetry-ingested"),
		},
		MQTT: MQTTConfig{
			BrokerURL: getEnv("MQTT_BROKER_URL", ""),
			ClientID:  getEnv("MQTT_CLIENT_ID", "telemetry-ingestion-service"),
			Topic:     getEnv("MQTT_TOPIC", "telemetry/ingest"),
			QoS:       getEnvAsInt("MQTT_QOS", 1),
			Username:  getEnv("MQTT_USERNAME", ""),
			Password:  getEnv("MQTT_PASSWORD", ""),
		},
		Validation: ValidationConfig{
			MaxFutureSkewMinutes: getEnvAsInt("VALIDATION_MAX_FUTURE_SKEW_MINUTES", 0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must not be empty when STORE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}

	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return fmt.Errorf("SERVICE_PORT must be between 1 and 65535, got %d", c.ServicePort)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.RabbitMQ.Enabled() && c.RabbitMQ.PrefetchCount <= 0 {
		return fmt.Errorf("RABBITMQ_PREFETCH must be positive, got %d", c.RabbitMQ.PrefetchCount)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

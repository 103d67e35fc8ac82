package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	MQTT        MQTTConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Validation  ValidationConfig
	Dedup       DedupConfig
	Pipeline    PipelineConfig
	Registry    RegistryConfig
	Anomaly     AnomalyConfig
	Metrics     MetricsConfig
}

// MQTTConfig holds broker connection and subscription settings
type MQTTConfig struct {
	BrokerURL      string
	ClientIDPrefix string
	Username       string
	Password       string
	QoS            int
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds the outbound alert/event exchange settings
type RabbitMQConfig struct {
	URL             string
	AlertExchange   string
	AlertRoutingKey string
	EventRoutingKey string
}

// ValidationConfig holds per-class freshness windows
type ValidationConfig struct {
	MeterMaxAge   time.Duration
	QualityMaxAge time.Duration
	SensorMaxAge  time.Duration
}

// DedupConfig holds fingerprint cache settings
type DedupConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

// PipelineConfig holds worker pool settings
type PipelineConfig struct {
	Workers        int
	QueueSize      int
	MessageTimeout time.Duration
	PersistRetries int
	PersistBackoff time.Duration
}

// RegistryConfig holds device registry eviction settings
type RegistryConfig struct {
	MaxDevices int
	TTL        time.Duration
}

// AnomalyConfig holds meter spike detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64
	MinDataPointsForDetection int
	HistoryWindow             int
}

// MetricsConfig holds the metrics/health HTTP server settings
type MetricsConfig struct {
	Addr string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "water-telemetry-worker"),
		MQTT: MQTTConfig{
			BrokerURL:      getEnv("MQTT_BROKER_URL", ""),
			ClientIDPrefix: getEnv("MQTT_CLIENT_ID_PREFIX", "water-telemetry-"),
			Username:       getEnv("MQTT_USERNAME", ""),
			Password:       getEnv("MQTT_PASSWORD", ""),
			QoS:            getEnvAsInt("MQTT_QOS", 1),
			ConnectTimeout: getEnvAsDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second),
			RetryInterval:  getEnvAsDuration("MQTT_RETRY_INTERVAL", 5*time.Second),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			AlertExchange:   getEnv("RABBITMQ_ALERT_EXCHANGE", "water-telemetry.alerts.exchange"),
			AlertRoutingKey: getEnv("RABBITMQ_ALERT_ROUTING_KEY", "utility.alert"),
			EventRoutingKey: getEnv("RABBITMQ_EVENT_ROUTING_KEY", "meter.reading.accepted"),
		},
		Validation: ValidationConfig{
			MeterMaxAge:   getEnvAsDuration("VALIDATION_METER_MAX_AGE", 7*24*time.Hour),
			QualityMaxAge: getEnvAsDuration("VALIDATION_QUALITY_MAX_AGE", 24*time.Hour),
			SensorMaxAge:  getEnvAsDuration("VALIDATION_SENSOR_MAX_AGE", time.Hour),
		},
		Dedup: DedupConfig{
			Retention:     getEnvAsDuration("DEDUP_RETENTION", time.Hour),
			SweepInterval: getEnvAsDuration("DEDUP_SWEEP_INTERVAL", 5*time.Minute),
		},
		Pipeline: PipelineConfig{
			Workers:        getEnvAsInt("PIPELINE_WORKERS", 8),
			QueueSize:      getEnvAsInt("PIPELINE_QUEUE_SIZE", 1000),
			MessageTimeout: getEnvAsDuration("PIPELINE_MESSAGE_TIMEOUT", 10*time.Second),
			PersistRetries: getEnvAsInt("PIPELINE_PERSIST_RETRIES", 3),
			PersistBackoff: getEnvAsDuration("PIPELINE_PERSIST_BACKOFF", 200*time.Millisecond),
		},
		Registry: RegistryConfig{
			MaxDevices: getEnvAsInt("REGISTRY_MAX_DEVICES", 10000),
			TTL:        getEnvAsDuration("REGISTRY_TTL", 24*time.Hour),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold:            getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 3),
			HistoryWindow:             getEnvAsInt("ANOMALY_HISTORY_WINDOW", 10),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}

	// Validate required fields
	if cfg.MQTT.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT_BROKER_URL is required but not set in environment variables")
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	return cfg, nil
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

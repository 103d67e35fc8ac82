package main

import (
	"context"

	"github.com/urbanflow/water-telemetry-worker/internal/alert"
	"github.com/urbanflow/water-telemetry-worker/internal/anomaly"
	"github.com/urbanflow/water-telemetry-worker/internal/config"
	"github.com/urbanflow/water-telemetry-worker/internal/db"
	"github.com/urbanflow/water-telemetry-worker/internal/dedup"
	"github.com/urbanflow/water-telemetry-worker/internal/device"
	"github.com/urbanflow/water-telemetry-worker/internal/dispatch"
	"github.com/urbanflow/water-telemetry-worker/internal/metrics"
	"github.com/urbanflow/water-telemetry-worker/internal/mq"
	"github.com/urbanflow/water-telemetry-worker/internal/mqtt"
	"github.com/urbanflow/water-telemetry-worker/internal/quality"
	"github.com/urbanflow/water-telemetry-worker/internal/repository"
	"github.com/urbanflow/water-telemetry-worker/internal/service"
	"github.com/urbanflow/water-telemetry-worker/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startPipeline wires the transport into the dispatcher and registers the
// ingest lifecycle: workers start before the broker connection is opened,
// and the broker disconnects before the queue is drained on shutdown.
func startPipeline(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.ProcessorService,
) *mqtt.Client {
	dispatcher := dispatch.NewDispatcher(
		cfg.Pipeline.Workers,
		cfg.Pipeline.QueueSize,
		cfg.Pipeline.MessageTimeout,
		processor.Handle,
		logger,
	)
	client := mqtt.NewClient(cfg.MQTT, dispatcher, logger)

	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting telemetry pipeline",
				zap.Int("workers", cfg.Pipeline.Workers),
				zap.String("broker", cfg.MQTT.BrokerURL),
			)
			dispatcher.Start(ctx)
			return client.Connect()
		},
		OnStop: func(stopCtx context.Context) error {
			client.Disconnect()
			dispatcher.Stop()
			cancel()
			logger.Info("telemetry pipeline stopped")
			return nil
		},
	})

	return client
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideQualityEngine creates the water quality assessment engine
func ProvideQualityEngine() *quality.Engine {
	return quality.NewEngine()
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation)
}

// ProvideDedupCache creates the fingerprint cache and its sweeper
func ProvideDedupCache(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *dedup.Cache {
	cache := dedup.NewCache(cfg.Dedup.Retention)
	dedup.NewSweeper(lc, cache, cfg.Dedup.SweepInterval, logger)
	return cache
}

// ProvideDeviceRegistry creates the bounded device registry
func ProvideDeviceRegistry(cfg *config.Config) *device.Registry {
	return device.NewRegistry(cfg.Registry.MaxDevices, cfg.Registry.TTL)
}

// ProvideAnomalyDetector creates the meter spike detector
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the outbound alert/event publisher
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.AlertExchange, cfg.RabbitMQ.AlertRoutingKey, cfg.RabbitMQ.EventRoutingKey, logger)
}

// ProvideAlertEmitter creates the alert emitter backed by the publisher
func ProvideAlertEmitter(publisher *mq.Publisher, logger *zap.Logger) *alert.Emitter {
	return alert.NewEmitter(publisher, logger)
}

// startMetricsServer brings up the metrics/health HTTP server
func startMetricsServer(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) {
	metrics.NewServer(lc, logger, cfg.Metrics.Addr)
}

// ProvideProcessorService creates a new processor service instance
func ProvideProcessorService(
	repo *repository.Repository,
	publisher *mq.Publisher,
	emitter *alert.Emitter,
	engine *quality.Engine,
	validator *validator.Validator,
	dedupCache *dedup.Cache,
	registry *device.Registry,
	detector *anomaly.Detector,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ProcessorService {
	return service.NewProcessorService(repo, publisher, emitter, engine, validator, dedupCache, registry, detector, cfg, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/urbanflow/water-telemetry-worker/internal/alert"
	"github.com/urbanflow/water-telemetry-worker/internal/anomaly"
	"github.com/urbanflow/water-telemetry-worker/internal/config"
	"github.com/urbanflow/water-telemetry-worker/internal/db"
	"github.com/urbanflow/water-telemetry-worker/internal/dedup"
	"github.com/urbanflow/water-telemetry-worker/internal/device"
	"github.com/urbanflow/water-telemetry-worker/internal/logging"
	"github.com/urbanflow/water-telemetry-worker/internal/metrics"
	"github.com/urbanflow/water-telemetry-worker/internal/mq"
	"github.com/urbanflow/water-telemetry-worker/internal/quality"
	"github.com/urbanflow/water-telemetry-worker/internal/repository"
	"github.com/urbanflow/water-telemetry-worker/internal/telemetry"
	"github.com/urbanflow/water-telemetry-worker/internal/validator"
	"go.uber.org/zap"
)

// Store is the persistence gateway the processor writes through.
type Store interface {
	FindConnectionByMeterID(ctx context.Context, meterID string) (*db.Connection, error)
	InsertMeterReading(ctx context.Context, reading *db.MeterReading) error
	InsertQualitySample(ctx context.Context, sample *db.QualitySampleRecord) error
	GetRecentMeterValues(ctx context.Context, deviceID string, limit int) ([]float64, error)
	InsertDeadLetter(ctx context.Context, dl *db.DeadLetter) error
}

// EventPublisher publishes accepted-reading events for downstream consumers.
type EventPublisher interface {
	PublishReadingAccepted(ctx context.Context, event mq.ReadingAcceptedEvent) error
}

// ProcessorService routes each parsed telemetry message through validation,
// deduplication, reliability tagging, persistence, and the alert rules.
type ProcessorService struct {
	store     Store
	events    EventPublisher
	emitter   *alert.Emitter
	engine    *quality.Engine
	validator *validator.Validator
	dedup     *dedup.Cache
	registry  *device.Registry
	detector  *anomaly.Detector
	cfg       *config.Config
	logger    *zap.Logger
}

// NewProcessorService creates a new processor service
func NewProcessorService(
	store Store,
	events EventPublisher,
	emitter *alert.Emitter,
	engine *quality.Engine,
	validator *validator.Validator,
	dedupCache *dedup.Cache,
	registry *device.Registry,
	detector *anomaly.Detector,
	cfg *config.Config,
	logger *zap.Logger,
) *ProcessorService {
	return &ProcessorService{
		store:     store,
		events:    events,
		emitter:   emitter,
		engine:    engine,
		validator: validator,
		dedup:     dedupCache,
		registry:  registry,
		detector:  detector,
		cfg:       cfg,
		logger:    logger,
	}
}

// Handle processes one message. Every failure path is terminal for the
// message and never for the process.
func (s *ProcessorService) Handle(ctx context.Context, msg telemetry.Message) {
	logger := logging.WithDevice(s.logger, string(msg.Class), msg.DeviceID)

	switch msg.Class {
	case telemetry.ClassMeter:
		s.handleMeter(ctx, msg, logger)
	case telemetry.ClassQuality:
		s.handleQuality(ctx, msg, logger)
	case telemetry.ClassPressure:
		s.handlePressure(ctx, msg, logger)
	case telemetry.ClassFlow:
		s.handleFlow(ctx, msg, logger)
	case telemetry.ClassPump:
		s.handlePump(ctx, msg, logger)
	case telemetry.ClassTank:
		s.handleTank(ctx, msg, logger)
	case telemetry.ClassLeak:
		s.handleLeak(ctx, msg, logger)
	default:
		metrics.MessagesMalformed.Inc()
		logger.Warn("no handler for device class")
	}
}

// accept runs the shared gate: freshness window, per-class range result,
// and atomic dedup check. Returns the parsed reading time, or false when
// the message must be dropped.
func (s *ProcessorService) accept(msg telemetry.Message, rawTimestamp string, value float64, rangeResult validator.Result, logger *zap.Logger) (time.Time, bool) {
	ts, freshness := s.validator.ParseTimestamp(msg.Class, rawTimestamp, msg.ReceivedAt)
	if !freshness.Accept {
		metrics.MessagesRejected.WithLabelValues(string(msg.Class)).Inc()
		logger.Warn("reading rejected", zap.String("reason", freshness.Reason))
		return time.Time{}, false
	}

	if !rangeResult.Accept {
		metrics.MessagesRejected.WithLabelValues(string(msg.Class)).Inc()
		logger.Warn("reading rejected", zap.String("reason", rangeResult.Reason))
		return time.Time{}, false
	}

	fp := dedup.Fingerprint(msg.DeviceID, value, ts)
	if !s.dedup.CheckAndInsert(fp, msg.ReceivedAt) {
		metrics.MessagesDuplicate.Inc()
		logger.Debug("duplicate reading discarded", zap.String("fingerprint", fp))
		return time.Time{}, false
	}

	return ts, true
}

func (s *ProcessorService) observeDevice(msg telemetry.Message, battery, signal float64) device.ReliabilityTier {
	tier := device.Reliability(battery, signal)
	s.registry.Observe(device.Info{
		DeviceID:       msg.DeviceID,
		Class:          string(msg.Class),
		BatteryLevel:   battery,
		SignalStrength: signal,
		Reliability:    tier,
		LastSeen:       msg.ReceivedAt,
	})
	return tier
}

func (s *ProcessorService) handleMeter(ctx context.Context, msg telemetry.Message, logger *zap.Logger) {
	var p telemetry.MeterPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		metrics.MessagesMalformed.Inc()
		logger.Warn("failed to parse meter payload", zap.Error(err))
		return
	}

	ts, ok := s.accept(msg, p.Timestamp, p.Reading, s.validator.ValidateMeter(p.Reading), logger)
	if !ok {
		return
	}

	tier := s.observeDevice(msg, p.BatteryLevel, p.SignalStrength)

	// The connection lookup is best-effort: an unregistered meter still has
	// its reading stored, just without an owner reference.
	var connectionID *uuid.UUID
	var recipient string
	conn, err := s.store.FindConnectionByMeterID(ctx, msg.DeviceID)
	switch {
	case err == nil:
		connectionID = &conn.ID
		recipient = conn.Contact
	case errors.Is(err, repository.ErrConnectionNotFound):
		logger.Debug("no connection registered for meter")
	default:
		logger.Warn("connection lookup failed", zap.Error(err))
	}

	status := "valid"
	var anomalyReason *string
	historical, err := s.store.GetRecentMeterValues(ctx, msg.DeviceID, s.cfg.Anomaly.HistoryWindow)
	if err != nil {
		logger.Warn("failed to load history for spike detection", zap.Error(err))
	} else if isSpike, reason := s.detector.DetectSpike(p.Reading, historical); isSpike {
		status = "flagged"
		anomalyReason = &reason
		logger.Info("meter reading flagged as anomalous", zap.String("reason", reason))
	}

	reading := &db.MeterReading{
		ConnectionID:   connectionID,
		DeviceID:       msg.DeviceID,
		CurrentReading: p.Reading,
		ReadingDate:    ts,
		ReceivedAt:     msg.ReceivedAt,
		Source:         "iot-sensor",
		IsValidated:    true,
		ValidatedBy:    "telemetry-worker",
		Status:         status,
		AnomalyReason:  anomalyReason,
		Metadata: db.SensorMetadata{
			DeviceID:       msg.DeviceID,
			BatteryLevel:   p.BatteryLevel,
			SignalStrength: p.SignalStrength,
			Reliability:    string(tier),
		},
	}

	if !s.persistWithRetry(ctx, msg, logger, func() error {
		return s.store.InsertMeterReading(ctx, reading)
	}) {
		return
	}
	metrics.ReadingsPersisted.WithLabelValues(string(msg.Class)).Inc()

	event := mq.ReadingAcceptedEvent{
		DeviceID:       msg.DeviceID,
		CurrentReading: p.Reading,
		ReadingDate:    ts.Format(time.RFC3339),
		Status:         status,
		Reliability:    string(tier),
	}
	if connectionID != nil {
		event.ConnectionID = connectionID.String()
	}
	if err := s.events.PublishReadingAccepted(ctx, event); err != nil {
		logger.Error("failed to publish accepted-reading event", zap.Error(err))
	}

	if anomalyReason != nil {
		s.emitter.Emit(ctx, alert.ForMeterAnomaly(msg.DeviceID, *anomalyReason, recipient, p.Reading, msg.ReceivedAt))
	}
}

func (s *ProcessorService) handleQuality(ctx context.Context, msg telemetry.Message, logger *zap.Logger) {
	var p telemetry.QualityPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		metrics.MessagesMalformed.Inc()
		logger.Warn("failed to parse quality payload", zap.Error(err))
		return
	}

	ts, ok := s.accept(msg, p.Timestamp, p.PH, s.validator.ValidateQuality(p), logger)
	if !ok {
		return
	}

	tier := s.observeDevice(msg, p.BatteryLevel, p.SignalStrength)

	sample := s.engine.Assess(quality.NewSensorSample(p.PH, p.Turbidity, p.TDS, p.Chlorine, p.Temperature))

	parameters, err := json.Marshal(struct {
		Physical        quality.PhysicalParams        `json:"physical"`
		Chemical        quality.ChemicalParams        `json:"chemical"`
		Bacteriological quality.BacteriologicalParams `json:"bacteriological"`
	}{sample.Physical, sample.Chemical, sample.Bacteriological})
	if err != nil {
		logger.Error("failed to marshal sample parameters", zap.Error(err))
		return
	}
	issues, err := json.Marshal(sample.Issues)
	if err != nil {
		logger.Error("failed to marshal sample issues", zap.Error(err))
		return
	}

	record := &db.QualitySampleRecord{
		SampleID:       uuid.New().String(),
		DeviceID:       msg.DeviceID,
		Latitude:       p.Location.Latitude,
		Longitude:      p.Location.Longitude,
		LocationName:   p.LocationName,
		Ward:           p.Ward,
		Zone:           p.Zone,
		SampleType:     "continuous-monitoring",
		SampledAt:      ts,
		ReceivedAt:     msg.ReceivedAt,
		QualityScore:   sample.QualityScore,
		OverallQuality: string(sample.OverallQuality),
		Parameters:     parameters,
		Issues:         issues,
		Metadata: db.SensorMetadata{
			DeviceID:       msg.DeviceID,
			BatteryLevel:   p.BatteryLevel,
			SignalStrength: p.SignalStrength,
			Reliability:    string(tier),
		},
		DataSource: "iot-sensor",
	}

	if !s.persistWithRetry(ctx, msg, logger, func() error {
		return s.store.InsertQualitySample(ctx, record)
	}) {
		return
	}
	metrics.ReadingsPersisted.WithLabelValues(string(msg.Class)).Inc()

	logger.Info("quality sample stored",
		zap.String("sample_id", record.SampleID),
		zap.Int("score", sample.QualityScore),
		zap.String("overall", string(sample.OverallQuality)),
	)

	s.emitter.Emit(ctx, alert.ForQuality(msg.DeviceID, sample, p.Ward, p.Zone, msg.ReceivedAt))
}

func (s *ProcessorService) handlePressure(ctx context.Context, msg telemetry.Message, logger *zap.Logger) {
	var p telemetry.PressurePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		metrics.MessagesMalformed.Inc()
		logger.Warn("failed to parse pressure payload", zap.Error(err))
		return
	}

	if _, ok := s.accept(msg, p.Timestamp, p.Pressure, s.validator.ValidatePressure(p.Pressure), logger); !ok {
		return
	}

	s.observeDevice(msg, p.BatteryLevel, 0)
	s.emitter.Emit(ctx, alert.ForPressure(msg.DeviceID, p.Pressure, msg.ReceivedAt))
}

func (s *ProcessorService) handleFlow(ctx context.Context, msg telemetry.Message, logger *zap.Logger) {
	var p telemetry.FlowPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		metrics.MessagesMalformed.Inc()
		logger.Warn("failed to parse flow payload", zap.Error(err))
		return
	}

	if _, ok := s.accept(msg, p.Timestamp, p.FlowRate, s.validator.ValidateFlow(p.FlowRate, p.TotalFlow), logger); !ok {
		return
	}

	s.observeDevice(msg, 0, 0)
	logger.Debug("flow reading accepted",
		zap.Float64("flow_rate", p.FlowRate),
		zap.Float64("total_flow", p.TotalFlow),
	)
}

func (s *ProcessorService) handlePump(ctx context.Context, msg telemetry.Message, logger *zap.Logger) {
	var p telemetry.PumpPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		metrics.MessagesMalformed.Inc()
		logger.Warn("failed to parse pump payload", zap.Error(err))
		return
	}

	if _, ok := s.accept(msg, p.Timestamp, p.PowerConsumption, s.validator.ValidatePump(p), logger); !ok {
		return
	}

	s.observeDevice(msg, 0, 0)
	s.emitter.Emit(ctx, alert.ForPump(msg.DeviceID, p, msg.ReceivedAt))
}

func (s *ProcessorService) handleTank(ctx context.Context, msg telemetry.Message, logger *zap.Logger) {
	var p telemetry.TankPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		metrics.MessagesMalformed.Inc()
		logger.Warn("failed to parse tank payload", zap.Error(err))
		return
	}

	if _, ok := s.accept(msg, p.Timestamp, p.Level, s.validator.ValidateTank(p.Level, p.Capacity), logger); !ok {
		return
	}

	s.observeDevice(msg, 0, 0)
	s.emitter.Emit(ctx, alert.ForTank(msg.DeviceID, p.Level, p.Capacity, msg.ReceivedAt))
}

func (s *ProcessorService) handleLeak(ctx context.Context, msg telemetry.Message, logger *zap.Logger) {
	var p telemetry.LeakPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		metrics.MessagesMalformed.Inc()
		logger.Warn("failed to parse leak payload", zap.Error(err))
		return
	}

	if _, ok := s.accept(msg, p.Timestamp, p.Intensity, s.validator.ValidateLeak(p.Intensity), logger); !ok {
		return
	}

	s.observeDevice(msg, 0, 0)
	s.emitter.Emit(ctx, alert.ForLeak(msg.DeviceID, p.LeakDetected, p.Intensity, msg.ReceivedAt))
}

// persistWithRetry runs the insert with bounded retries and exponential
// backoff. On exhaustion the raw payload is parked in the dead-letter table
// for operator replay, and processing of the message ends.
func (s *ProcessorService) persistWithRetry(ctx context.Context, msg telemetry.Message, logger *zap.Logger, insert func() error) bool {
	var lastErr error
	delay := s.cfg.Pipeline.PersistBackoff

	for attempt := 0; attempt < s.cfg.Pipeline.PersistRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				s.deadLetter(ctx, msg, logger, lastErr)
				return false
			}
		}
		if lastErr = insert(); lastErr == nil {
			return true
		}
		logger.Warn("persist attempt failed", zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}

	s.deadLetter(ctx, msg, logger, lastErr)
	return false
}

func (s *ProcessorService) deadLetter(ctx context.Context, msg telemetry.Message, logger *zap.Logger, cause error) {
	metrics.DeadLettered.Inc()
	logger.Error("persistence failed after all retries, dead-lettering", zap.Error(cause))

	dl := &db.DeadLetter{
		Topic:      msg.Topic,
		DeviceID:   msg.DeviceID,
		Payload:    msg.Payload,
		FailReason: cause.Error(),
		FailedAt:   time.Now().UTC(),
	}
	// Dead-lettering uses a fresh short deadline so a cancelled message
	// context cannot also sink the replay record.
	dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.InsertDeadLetter(dlCtx, dl); err != nil {
		logger.Error("dead-letter insert failed, message lost", zap.Error(err))
	}
}

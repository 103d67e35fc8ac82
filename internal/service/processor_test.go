package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/urbanflow/water-telemetry-worker/internal/alert"
	"github.com/urbanflow/water-telemetry-worker/internal/anomaly"
	"github.com/urbanflow/water-telemetry-worker/internal/config"
	"github.com/urbanflow/water-telemetry-worker/internal/db"
	"github.com/urbanflow/water-telemetry-worker/internal/dedup"
	"github.com/urbanflow/water-telemetry-worker/internal/device"
	"github.com/urbanflow/water-telemetry-worker/internal/mq"
	"github.com/urbanflow/water-telemetry-worker/internal/quality"
	"github.com/urbanflow/water-telemetry-worker/internal/repository"
	"github.com/urbanflow/water-telemetry-worker/internal/service"
	"github.com/urbanflow/water-telemetry-worker/internal/telemetry"
	"github.com/urbanflow/water-telemetry-worker/internal/validator"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu          sync.Mutex
	connections map[string]*db.Connection
	history     map[string][]float64
	failInserts bool

	meterReadings  []*db.MeterReading
	qualitySamples []*db.QualitySampleRecord
	deadLetters    []*db.DeadLetter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		connections: make(map[string]*db.Connection),
		history:     make(map[string][]float64),
	}
}

func (f *fakeStore) FindConnectionByMeterID(_ context.Context, meterID string) (*db.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.connections[meterID]; ok {
		return conn, nil
	}
	return nil, repository.ErrConnectionNotFound
}

func (f *fakeStore) InsertMeterReading(_ context.Context, reading *db.MeterReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInserts {
		return fmt.Errorf("connection refused")
	}
	f.meterReadings = append(f.meterReadings, reading)
	return nil
}

func (f *fakeStore) InsertQualitySample(_ context.Context, sample *db.QualitySampleRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInserts {
		return fmt.Errorf("connection refused")
	}
	f.qualitySamples = append(f.qualitySamples, sample)
	return nil
}

func (f *fakeStore) GetRecentMeterValues(_ context.Context, deviceID string, _ int) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[deviceID], nil
}

func (f *fakeStore) InsertDeadLetter(_ context.Context, dl *db.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, dl)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []mq.ReadingAcceptedEvent
}

func (f *fakeEvents) PublishReadingAccepted(_ context.Context, event mq.ReadingAcceptedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeAlertPublisher struct {
	mu     sync.Mutex
	alerts []alert.Alert
	fail   bool
}

func (f *fakeAlertPublisher) PublishAlert(_ context.Context, a alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.alerts = append(f.alerts, a)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Validation: config.ValidationConfig{
			MeterMaxAge:   7 * 24 * time.Hour,
			QualityMaxAge: 24 * time.Hour,
			SensorMaxAge:  time.Hour,
		},
		Pipeline: config.PipelineConfig{
			PersistRetries: 3,
			PersistBackoff: time.Millisecond,
		},
		Anomaly: config.AnomalyConfig{
			SpikeThreshold:            3.0,
			MinDataPointsForDetection: 3,
			HistoryWindow:             10,
		},
	}
}

func newProcessor(store *fakeStore, events *fakeEvents, alerts *fakeAlertPublisher) *service.ProcessorService {
	cfg := testConfig()
	logger := zap.NewNop()
	return service.NewProcessorService(
		store,
		events,
		alert.NewEmitter(alerts, logger),
		quality.NewEngine(),
		validator.NewValidator(cfg.Validation),
		dedup.NewCache(time.Hour),
		device.NewRegistry(100, 24*time.Hour),
		anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection),
		cfg,
		logger,
	)
}

var received = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func meterMessage(deviceID string, reading float64, ts time.Time) telemetry.Message {
	payload := fmt.Sprintf(`{"reading":%.1f,"timestamp":"%s","batteryLevel":85,"signalStrength":90}`,
		reading, ts.Format(time.RFC3339))
	return telemetry.Message{
		Class:      telemetry.ClassMeter,
		DeviceID:   deviceID,
		Topic:      "meters/" + deviceID + "/reading",
		Payload:    []byte(payload),
		ReceivedAt: received,
	}
}

func TestHandle_MeterReadingPersisted(t *testing.T) {
	store := newFakeStore()
	connID := uuid.New()
	store.connections["WM-1001"] = &db.Connection{ID: connID, MeterID: "WM-1001", Contact: "citizen-42"}
	events := &fakeEvents{}
	processor := newProcessor(store, events, &fakeAlertPublisher{})

	processor.Handle(context.Background(), meterMessage("WM-1001", 1523.5, received.Add(-time.Hour)))

	if len(store.meterReadings) != 1 {
		t.Fatalf("Expected 1 persisted reading, got %d", len(store.meterReadings))
	}
	reading := store.meterReadings[0]
	if reading.CurrentReading != 1523.5 {
		t.Errorf("Expected reading 1523.5, got %.1f", reading.CurrentReading)
	}
	if reading.Status != "valid" {
		t.Errorf("Expected status valid, got %s", reading.Status)
	}
	if reading.ConnectionID == nil || *reading.ConnectionID != connID {
		t.Error("Expected reading linked to the registered connection")
	}
	if reading.Metadata.Reliability != string(device.ReliabilityHigh) {
		t.Errorf("Expected high reliability at battery 85/signal 90, got %s", reading.Metadata.Reliability)
	}

	if len(events.events) != 1 {
		t.Fatalf("Expected 1 accepted-reading event, got %d", len(events.events))
	}
	if events.events[0].ConnectionID != connID.String() {
		t.Errorf("Expected event connection %s, got %s", connID, events.events[0].ConnectionID)
	}
}

func TestHandle_UnregisteredMeterStillPersisted(t *testing.T) {
	store := newFakeStore()
	processor := newProcessor(store, &fakeEvents{}, &fakeAlertPublisher{})

	processor.Handle(context.Background(), meterMessage("WM-unknown", 42, received.Add(-time.Hour)))

	if len(store.meterReadings) != 1 {
		t.Fatalf("Expected 1 persisted reading, got %d", len(store.meterReadings))
	}
	if store.meterReadings[0].ConnectionID != nil {
		t.Error("Expected nil connection reference for an unregistered meter")
	}
}

func TestHandle_DuplicateMeterDiscarded(t *testing.T) {
	store := newFakeStore()
	processor := newProcessor(store, &fakeEvents{}, &fakeAlertPublisher{})

	msg := meterMessage("WM-1001", 1523.5, received.Add(-time.Hour))
	processor.Handle(context.Background(), msg)
	processor.Handle(context.Background(), msg)

	if len(store.meterReadings) != 1 {
		t.Errorf("Expected duplicate to be discarded, got %d persisted readings", len(store.meterReadings))
	}
}

func TestHandle_StaleMeterRejected(t *testing.T) {
	store := newFakeStore()
	processor := newProcessor(store, &fakeEvents{}, &fakeAlertPublisher{})

	processor.Handle(context.Background(), meterMessage("WM-1001", 1523.5, received.Add(-10*24*time.Hour)))

	if len(store.meterReadings) != 0 {
		t.Errorf("Expected 10-day-old reading to be rejected, got %d persisted", len(store.meterReadings))
	}
}

func TestHandle_OutOfRangeMeterRejected(t *testing.T) {
	store := newFakeStore()
	processor := newProcessor(store, &fakeEvents{}, &fakeAlertPublisher{})

	processor.Handle(context.Background(), meterMessage("WM-1001", -1, received.Add(-time.Hour)))
	processor.Handle(context.Background(), meterMessage("WM-1001", 1000000, received.Add(-time.Hour)))

	if len(store.meterReadings) != 0 {
		t.Errorf("Expected out-of-range readings to be rejected, got %d persisted", len(store.meterReadings))
	}
}

func TestHandle_MalformedPayloadDropped(t *testing.T) {
	store := newFakeStore()
	processor := newProcessor(store, &fakeEvents{}, &fakeAlertPublisher{})

	processor.Handle(context.Background(), telemetry.Message{
		Class:      telemetry.ClassMeter,
		DeviceID:   "WM-1001",
		Topic:      "meters/WM-1001/reading",
		Payload:    []byte("{not json"),
		ReceivedAt: received,
	})

	if len(store.meterReadings) != 0 {
		t.Errorf("Expected malformed payload to be dropped, got %d persisted", len(store.meterReadings))
	}
}

func TestHandle_MeterSpikeFlagged(t *testing.T) {
	store := newFakeStore()
	store.history["WM-1001"] = []float64{100, 105, 110}
	alerts := &fakeAlertPublisher{}
	processor := newProcessor(store, &fakeEvents{}, alerts)

	processor.Handle(context.Background(), meterMessage("WM-1001", 900, received.Add(-time.Hour)))

	if len(store.meterReadings) != 1 {
		t.Fatalf("Expected flagged reading to still be persisted, got %d", len(store.meterReadings))
	}
	reading := store.meterReadings[0]
	if reading.Status != "flagged" {
		t.Errorf("Expected status flagged, got %s", reading.Status)
	}
	if reading.AnomalyReason == nil {
		t.Error("Expected an anomaly reason on a flagged reading")
	}

	if len(alerts.alerts) != 1 || alerts.alerts[0].Type != "meter_anomaly" {
		t.Errorf("Expected one meter_anomaly alert, got %v", alerts.alerts)
	}
}

func TestHandle_QualitySamplePersistedAndAlerted(t *testing.T) {
	store := newFakeStore()
	alerts := &fakeAlertPublisher{}
	processor := newProcessor(store, &fakeEvents{}, alerts)

	// Penalties: pH 15, turbidity 10, TDS 10, chlorine 20 = 55 -> score 45.
	payload := fmt.Sprintf(`{
		"location": {"latitude": 23.03, "longitude": 72.58},
		"locationName": "Ward 12 pump house",
		"ward": "12",
		"zone": "north",
		"timestamp": "%s",
		"pH": 5.5,
		"turbidity": 6.0,
		"tds": 700,
		"chlorine": 0.05,
		"temperature": 25,
		"batteryLevel": 60,
		"signalStrength": 70
	}`, received.Add(-time.Hour).Format(time.RFC3339))

	processor.Handle(context.Background(), telemetry.Message{
		Class:      telemetry.ClassQuality,
		DeviceID:   "WQ-probe-7",
		Topic:      "quality/WQ-probe-7/data",
		Payload:    []byte(payload),
		ReceivedAt: received,
	})

	if len(store.qualitySamples) != 1 {
		t.Fatalf("Expected 1 persisted sample, got %d", len(store.qualitySamples))
	}
	sample := store.qualitySamples[0]
	if sample.QualityScore != 45 {
		t.Errorf("Expected score 45, got %d", sample.QualityScore)
	}
	if sample.OverallQuality != string(quality.OverallPoor) {
		t.Errorf("Expected poor, got %s", sample.OverallQuality)
	}
	if sample.Ward != "12" || sample.Zone != "north" {
		t.Errorf("Expected ward/zone carried on record, got %s/%s", sample.Ward, sample.Zone)
	}
	if sample.SampleID == "" {
		t.Error("Expected a generated sample id")
	}

	if len(alerts.alerts) != 1 {
		t.Fatalf("Expected 1 alert for a poor sample, got %d", len(alerts.alerts))
	}
	if alerts.alerts[0].Type != "water_quality_degraded" {
		t.Errorf("Expected water_quality_degraded, got %s", alerts.alerts[0].Type)
	}
}

func TestHandle_CleanQualitySampleNoAlert(t *testing.T) {
	store := newFakeStore()
	alerts := &fakeAlertPublisher{}
	processor := newProcessor(store, &fakeEvents{}, alerts)

	payload := fmt.Sprintf(`{"timestamp":"%s","pH":7.2,"turbidity":0.5,"tds":300,"chlorine":0.5,"temperature":25,"batteryLevel":80,"signalStrength":85}`,
		received.Add(-time.Hour).Format(time.RFC3339))
	processor.Handle(context.Background(), telemetry.Message{
		Class:      telemetry.ClassQuality,
		DeviceID:   "WQ-probe-7",
		Topic:      "quality/WQ-probe-7/data",
		Payload:    []byte(payload),
		ReceivedAt: received,
	})

	if len(store.qualitySamples) != 1 {
		t.Fatalf("Expected 1 persisted sample, got %d", len(store.qualitySamples))
	}
	if store.qualitySamples[0].QualityScore != 100 {
		t.Errorf("Expected score 100, got %d", store.qualitySamples[0].QualityScore)
	}
	if len(alerts.alerts) != 0 {
		t.Errorf("Expected no alert for a clean sample, got %d", len(alerts.alerts))
	}
}

func TestHandle_PersistFailureDeadLetters(t *testing.T) {
	store := newFakeStore()
	store.failInserts = true
	events := &fakeEvents{}
	processor := newProcessor(store, events, &fakeAlertPublisher{})

	processor.Handle(context.Background(), meterMessage("WM-1001", 1523.5, received.Add(-time.Hour)))

	if len(store.meterReadings) != 0 {
		t.Errorf("Expected no persisted reading, got %d", len(store.meterReadings))
	}
	if len(store.deadLetters) != 1 {
		t.Fatalf("Expected 1 dead letter, got %d", len(store.deadLetters))
	}
	dl := store.deadLetters[0]
	if dl.DeviceID != "WM-1001" {
		t.Errorf("Expected dead letter for WM-1001, got %s", dl.DeviceID)
	}
	if dl.FailReason == "" {
		t.Error("Expected dead letter to carry the failure reason")
	}
	if len(events.events) != 0 {
		t.Errorf("Expected no accepted-reading event after persistence failure, got %d", len(events.events))
	}
}

func TestHandle_PressureOutOfBandAlerts(t *testing.T) {
	store := newFakeStore()
	alerts := &fakeAlertPublisher{}
	processor := newProcessor(store, &fakeEvents{}, alerts)

	payload := fmt.Sprintf(`{"pressure":0.5,"timestamp":"%s","batteryLevel":75}`,
		received.Add(-30*time.Minute).Format(time.RFC3339))
	processor.Handle(context.Background(), telemetry.Message{
		Class:      telemetry.ClassPressure,
		DeviceID:   "PS-14",
		Topic:      "pressure/PS-14/data",
		Payload:    []byte(payload),
		ReceivedAt: received,
	})

	if len(alerts.alerts) != 1 || alerts.alerts[0].Type != "low_pressure" {
		t.Errorf("Expected one low_pressure alert, got %v", alerts.alerts)
	}
	if len(store.meterReadings) != 0 || len(store.qualitySamples) != 0 {
		t.Error("Expected pressure messages to not be persisted")
	}
}

func TestHandle_TankLowLevelAlerts(t *testing.T) {
	store := newFakeStore()
	alerts := &fakeAlertPublisher{}
	processor := newProcessor(store, &fakeEvents{}, alerts)

	payload := fmt.Sprintf(`{"level":30,"capacity":1000,"timestamp":"%s"}`,
		received.Add(-30*time.Minute).Format(time.RFC3339))
	processor.Handle(context.Background(), telemetry.Message{
		Class:      telemetry.ClassTank,
		DeviceID:   "TK-3",
		Topic:      "tanks/TK-3/level",
		Payload:    []byte(payload),
		ReceivedAt: received,
	})

	if len(alerts.alerts) != 1 || alerts.alerts[0].Type != "low_level" {
		t.Errorf("Expected one low_level alert at 3%%, got %v", alerts.alerts)
	}
}

func TestHandle_AlertFailureDoesNotAffectPersistence(t *testing.T) {
	store := newFakeStore()
	store.history["WM-1001"] = []float64{100, 105, 110}
	alerts := &fakeAlertPublisher{fail: true}
	processor := newProcessor(store, &fakeEvents{}, alerts)

	processor.Handle(context.Background(), meterMessage("WM-1001", 900, received.Add(-time.Hour)))

	if len(store.meterReadings) != 1 {
		t.Errorf("Expected reading persisted despite alert failure, got %d", len(store.meterReadings))
	}
}

func TestHandle_StaleSensorRejectedBeforeAlerting(t *testing.T) {
	store := newFakeStore()
	alerts := &fakeAlertPublisher{}
	processor := newProcessor(store, &fakeEvents{}, alerts)

	// A two-hour-old leak report is outside the one-hour sensor window.
	payload := fmt.Sprintf(`{"leakDetected":true,"intensity":9,"timestamp":"%s"}`,
		received.Add(-2*time.Hour).Format(time.RFC3339))
	processor.Handle(context.Background(), telemetry.Message{
		Class:      telemetry.ClassLeak,
		DeviceID:   "PL-segment-9",
		Topic:      "pipes/PL-segment-9/leak",
		Payload:    []byte(payload),
		ReceivedAt: received,
	})

	if len(alerts.alerts) != 0 {
		t.Errorf("Expected stale leak report to be rejected before alerting, got %d alerts", len(alerts.alerts))
	}
}

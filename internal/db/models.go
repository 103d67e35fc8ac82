package db

import (
	"time"

	"github.com/google/uuid"
)

// Connection is a water/utility connection owned by a citizen. Connections
// are created by the billing system; the worker only looks them up by the
// meter device attached to them.
type Connection struct {
	ID          uuid.UUID
	MeterID     string
	CitizenName string
	Contact     string
	Ward        string
	Zone        string
	CreatedAt   time.Time
}

// SensorMetadata is the reliability context attached to persisted readings.
type SensorMetadata struct {
	DeviceID       string  `json:"device_id"`
	BatteryLevel   float64 `json:"battery_level"`
	SignalStrength float64 `json:"signal_strength"`
	Reliability    string  `json:"reliability"`
}

// MeterReading is a validated meter reading in the database
type MeterReading struct {
	ID             uuid.UUID
	ConnectionID   *uuid.UUID
	DeviceID       string
	CurrentReading float64
	ReadingDate    time.Time
	ReceivedAt     time.Time
	Source         string
	IsValidated    bool
	ValidatedBy    string
	Status         string
	AnomalyReason  *string
	Metadata       SensorMetadata
}

// QualitySampleRecord is a finalized water quality sample in the database.
// Score, overall quality and issues are always written together, exactly as
// the assessment engine derived them.
type QualitySampleRecord struct {
	SampleID       string
	DeviceID       string
	Latitude       float64
	Longitude      float64
	LocationName   string
	Ward           string
	Zone           string
	SampleType     string
	SampledAt      time.Time
	ReceivedAt     time.Time
	QualityScore   int
	OverallQuality string
	Parameters     []byte
	Issues         []byte
	Metadata       SensorMetadata
	DataSource     string
}

// DeadLetter holds a message whose persistence failed after all retries, so
// operators can replay lost telemetry.
type DeadLetter struct {
	ID         uuid.UUID
	Topic      string
	DeviceID   string
	Payload    []byte
	FailReason string
	FailedAt   time.Time
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urbanflow/water-telemetry-worker/internal/db"
)

// ErrConnectionNotFound is returned when no utility connection is registered
// for a meter device.
var ErrConnectionNotFound = fmt.Errorf("connection not found")

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindConnectionByMeterID looks up the utility connection a meter device is
// attached to. Returns ErrConnectionNotFound when the meter is unregistered.
func (r *Repository) FindConnectionByMeterID(ctx context.Context, meterID string) (*db.Connection, error) {
	query := `
		SELECT id, meter_id, citizen_name, contact, ward, zone, created_at
		FROM utility_connections
		WHERE meter_id = $1
	`

	var conn db.Connection
	err := r.pool.QueryRow(ctx, query, meterID).Scan(
		&conn.ID,
		&conn.MeterID,
		&conn.CitizenName,
		&conn.Contact,
		&conn.Ward,
		&conn.Zone,
		&conn.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query connection: %w", err)
	}

	return &conn, nil
}

// InsertMeterReading inserts a validated meter reading
func (r *Repository) InsertMeterReading(ctx context.Context, reading *db.MeterReading) error {
	metadata, err := json.Marshal(reading.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal reading metadata: %w", err)
	}

	query := `
		INSERT INTO meter_readings (
			connection_id, device_id, current_reading, reading_date,
			received_at, source, is_validated, validated_by, status,
			anomaly_reason, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.pool.Exec(ctx, query,
		reading.ConnectionID,
		reading.DeviceID,
		reading.CurrentReading,
		reading.ReadingDate,
		reading.ReceivedAt,
		reading.Source,
		reading.IsValidated,
		reading.ValidatedBy,
		reading.Status,
		reading.AnomalyReason,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert meter reading: %w", err)
	}

	return nil
}

// InsertQualitySample inserts a finalized water quality sample
func (r *Repository) InsertQualitySample(ctx context.Context, sample *db.QualitySampleRecord) error {
	metadata, err := json.Marshal(sample.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal sample metadata: %w", err)
	}

	query := `
		INSERT INTO water_quality_samples (
			sample_id, device_id, latitude, longitude, location_name,
			ward, zone, sample_type, sampled_at, received_at,
			quality_score, overall_quality, parameters, issues,
			metadata, data_source
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.pool.Exec(ctx, query,
		sample.SampleID,
		sample.DeviceID,
		sample.Latitude,
		sample.Longitude,
		sample.LocationName,
		sample.Ward,
		sample.Zone,
		sample.SampleType,
		sample.SampledAt,
		sample.ReceivedAt,
		sample.QualityScore,
		sample.OverallQuality,
		sample.Parameters,
		sample.Issues,
		metadata,
		sample.DataSource,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quality sample: %w", err)
	}

	return nil
}

// GetRecentMeterValues returns the most recent valid readings for a device,
// newest first, for spike detection.
func (r *Repository) GetRecentMeterValues(ctx context.Context, deviceID string, limit int) ([]float64, error) {
	query := `
		SELECT current_reading
		FROM meter_readings
		WHERE device_id = $1 AND status = 'valid'
		ORDER BY reading_date DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return values, nil
}

// InsertDeadLetter stores a message that could not be persisted after all
// retries, together with the failure reason, for later replay.
func (r *Repository) InsertDeadLetter(ctx context.Context, dl *db.DeadLetter) error {
	query := `
		INSERT INTO telemetry_dead_letters (topic, device_id, payload, fail_reason, failed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	failedAt := dl.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, query, dl.Topic, dl.DeviceID, dl.Payload, dl.FailReason, failedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	return nil
}

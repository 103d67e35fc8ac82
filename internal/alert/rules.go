package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urbanflow/water-telemetry-worker/internal/quality"
	"github.com/urbanflow/water-telemetry-worker/internal/telemetry"
)

// Severity ranks an alert for the notification collaborator.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Alert is the record forwarded to the notification collaborator.
type Alert struct {
	ID        string                `json:"id"`
	Type      string                `json:"type"`
	Severity  Severity              `json:"severity"`
	Class     telemetry.DeviceClass `json:"device_class"`
	DeviceID  string                `json:"device_id"`
	Message   string                `json:"message"`
	Value     float64               `json:"value,omitempty"`
	Recipient string                `json:"recipient,omitempty"`
	Ward      string                `json:"ward,omitempty"`
	Zone      string                `json:"zone,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Pressure distribution band. Outside it the network is either starved or
// at risk of pipe damage.
const (
	PressureAlertMin = 1.5
	PressureAlertMax = 6.0
)

// Tank fill thresholds, percent of capacity.
const (
	TankLowLevelPct     = 10.0
	TankOverflowRiskPct = 95.0
)

// Pump alert thresholds.
const (
	PumpTempAlertMax      = 80.0
	PumpVibrationAlertMax = 10.0
)

func newAlert(class telemetry.DeviceClass, deviceID, alertType string, severity Severity, value float64, message string, now time.Time) Alert {
	return Alert{
		ID:        uuid.New().String(),
		Type:      alertType,
		Severity:  severity,
		Class:     class,
		DeviceID:  deviceID,
		Message:   message,
		Value:     value,
		CreatedAt: now,
	}
}

// ForPressure returns an alert when the measured pressure leaves the
// distribution band.
func ForPressure(deviceID string, pressure float64, now time.Time) []Alert {
	if pressure >= PressureAlertMin && pressure <= PressureAlertMax {
		return nil
	}
	alertType := "low_pressure"
	if pressure > PressureAlertMax {
		alertType = "high_pressure"
	}
	return []Alert{newAlert(telemetry.ClassPressure, deviceID, alertType, SeverityHigh, pressure,
		fmt.Sprintf("pressure %.2f bar outside operating band [%.1f, %.1f]", pressure, PressureAlertMin, PressureAlertMax), now)}
}

// ForTank returns low-level and overflow-risk alerts from the fill
// percentage.
func ForTank(deviceID string, level, capacity float64, now time.Time) []Alert {
	if capacity <= 0 {
		return nil
	}
	pct := level / capacity * 100

	if pct < TankLowLevelPct {
		return []Alert{newAlert(telemetry.ClassTank, deviceID, "low_level", SeverityHigh, pct,
			fmt.Sprintf("tank at %.1f%% of capacity", pct), now)}
	}
	if pct > TankOverflowRiskPct {
		return []Alert{newAlert(telemetry.ClassTank, deviceID, "overflow_risk", SeverityMedium, pct,
			fmt.Sprintf("tank at %.1f%% of capacity, overflow imminent", pct), now)}
	}
	return nil
}

// ForLeak returns an alert when a leak is reported. Severity scales with
// the reported intensity.
func ForLeak(deviceID string, detected bool, intensity float64, now time.Time) []Alert {
	if !detected {
		return nil
	}
	severity := SeverityMedium
	switch {
	case intensity >= 7:
		severity = SeverityCritical
	case intensity >= 4:
		severity = SeverityHigh
	}
	return []Alert{newAlert(telemetry.ClassLeak, deviceID, "leak_detected", severity, intensity,
		fmt.Sprintf("leak detected with intensity %.1f", intensity), now)}
}

// ForPump returns one alert per violated pump condition: error status,
// overheating, excessive vibration.
func ForPump(deviceID string, p telemetry.PumpPayload, now time.Time) []Alert {
	var alerts []Alert
	if p.Status == "error" {
		alerts = append(alerts, newAlert(telemetry.ClassPump, deviceID, "pump_error", SeverityCritical, 0,
			"pump reported error status", now))
	}
	if p.Temperature > PumpTempAlertMax {
		alerts = append(alerts, newAlert(telemetry.ClassPump, deviceID, "pump_overheat", SeverityHigh, p.Temperature,
			fmt.Sprintf("pump temperature %.1f°C exceeds %.0f°C", p.Temperature, PumpTempAlertMax), now))
	}
	if p.Vibration > PumpVibrationAlertMax {
		alerts = append(alerts, newAlert(telemetry.ClassPump, deviceID, "pump_vibration", SeverityHigh, p.Vibration,
			fmt.Sprintf("pump vibration %.1f mm/s exceeds %.0f mm/s", p.Vibration, PumpVibrationAlertMax), now))
	}
	return alerts
}

// ForQuality returns an alert when a sample is classified poor or
// unacceptable.
func ForQuality(deviceID string, sample quality.Sample, ward, zone string, now time.Time) []Alert {
	if sample.OverallQuality != quality.OverallPoor && sample.OverallQuality != quality.OverallUnacceptable {
		return nil
	}
	severity := SeverityHigh
	if sample.OverallQuality == quality.OverallUnacceptable {
		severity = SeverityCritical
	}
	a := newAlert(telemetry.ClassQuality, deviceID, "water_quality_degraded", severity, float64(sample.QualityScore),
		fmt.Sprintf("water quality %s (score %d) with %d issue(s)", sample.OverallQuality, sample.QualityScore, len(sample.Issues)), now)
	a.Ward = ward
	a.Zone = zone
	return []Alert{a}
}

// ForMeterAnomaly returns an alert addressed to the connection's registered
// citizen when a meter reading was flagged as anomalous.
func ForMeterAnomaly(deviceID, reason, recipient string, value float64, now time.Time) []Alert {
	a := newAlert(telemetry.ClassMeter, deviceID, "meter_anomaly", SeverityMedium, value,
		fmt.Sprintf("anomalous meter reading: %s", reason), now)
	a.Recipient = recipient
	return []Alert{a}
}

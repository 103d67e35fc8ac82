package validator

import (
	"fmt"
	"time"

	"github.com/urbanflow/water-telemetry-worker/internal/config"
	"github.com/urbanflow/water-telemetry-worker/internal/telemetry"
	"github.com/urbanflow/water-telemetry-worker/tools/timeparser"
)

// Result holds the outcome of a plausibility check.
type Result struct {
	Accept bool
	Reason string
}

func reject(format string, args ...interface{}) Result {
	return Result{Accept: false, Reason: fmt.Sprintf(format, args...)}
}

var accepted = Result{Accept: true}

// Per-class plausibility bands. Values outside these are physically
// implausible for municipal infrastructure, not merely alarming.
const (
	MeterReadingMin = 0.0
	MeterReadingMax = 999999.0

	pressureMin = 0.0
	pressureMax = 20.0 // bar

	flowRateMin = 0.0
	flowRateMax = 10000.0 // L/min

	pumpTempMin      = -20.0
	pumpTempMax      = 150.0
	pumpVibrationMax = 100.0 // mm/s
	pumpPowerMax     = 1e6   // W

	leakIntensityMax = 10.0

	phMax        = 14.0
	turbidityMax = 1000.0
	tdsMax       = 10000.0
	chlorineMax  = 20.0
	waterTempMin = -10.0
	waterTempMax = 60.0
)

// Validator runs per-class range and freshness checks against raw readings.
type Validator struct {
	meterMaxAge   time.Duration
	qualityMaxAge time.Duration
	sensorMaxAge  time.Duration
}

// NewValidator creates a validator with the configured freshness windows.
func NewValidator(cfg config.ValidationConfig) *Validator {
	return &Validator{
		meterMaxAge:   cfg.MeterMaxAge,
		qualityMaxAge: cfg.QualityMaxAge,
		sensorMaxAge:  cfg.SensorMaxAge,
	}
}

// ParseTimestamp parses a device timestamp and checks it against the
// freshness window of the given class: readings must not be older than the
// window and must not be in the future.
func (v *Validator) ParseTimestamp(class telemetry.DeviceClass, raw string, now time.Time) (time.Time, Result) {
	ts, err := timeparser.ParseDeviceTimestamp(raw)
	if err != nil {
		return time.Time{}, reject("invalid timestamp: %v", err)
	}

	maxAge := v.sensorMaxAge
	switch class {
	case telemetry.ClassMeter:
		maxAge = v.meterMaxAge
	case telemetry.ClassQuality:
		maxAge = v.qualityMaxAge
	}

	if !timeparser.IsWithinWindow(ts, now, maxAge) {
		return ts, reject("timestamp %s outside freshness window (max age %s)", ts.Format(time.RFC3339), maxAge)
	}
	return ts, accepted
}

// ValidateMeter checks a meter reading value.
func (v *Validator) ValidateMeter(reading float64) Result {
	if reading < MeterReadingMin || reading > MeterReadingMax {
		return reject("meter reading %.2f outside plausible range [%.0f, %.0f]", reading, MeterReadingMin, MeterReadingMax)
	}
	return accepted
}

// ValidateQuality checks the sensor values of a quality probe reading.
func (v *Validator) ValidateQuality(p telemetry.QualityPayload) Result {
	if p.PH < 0 || p.PH > phMax {
		return reject("pH %.2f outside plausible range [0, %.0f]", p.PH, phMax)
	}
	if p.Turbidity < 0 || p.Turbidity > turbidityMax {
		return reject("turbidity %.2f outside plausible range [0, %.0f]", p.Turbidity, turbidityMax)
	}
	if p.TDS < 0 || p.TDS > tdsMax {
		return reject("tds %.2f outside plausible range [0, %.0f]", p.TDS, tdsMax)
	}
	if p.Chlorine < 0 || p.Chlorine > chlorineMax {
		return reject("chlorine %.2f outside plausible range [0, %.0f]", p.Chlorine, chlorineMax)
	}
	if p.Temperature < waterTempMin || p.Temperature > waterTempMax {
		return reject("temperature %.2f outside plausible range [%.0f, %.0f]", p.Temperature, waterTempMin, waterTempMax)
	}
	return accepted
}

// ValidatePressure checks a pressure sensor value.
func (v *Validator) ValidatePressure(pressure float64) Result {
	if pressure < pressureMin || pressure > pressureMax {
		return reject("pressure %.2f bar outside plausible range [%.0f, %.0f]", pressure, pressureMin, pressureMax)
	}
	return accepted
}

// ValidateFlow checks flow sensor values.
func (v *Validator) ValidateFlow(flowRate, totalFlow float64) Result {
	if flowRate < flowRateMin || flowRate > flowRateMax {
		return reject("flow rate %.2f outside plausible range [%.0f, %.0f]", flowRate, flowRateMin, flowRateMax)
	}
	if totalFlow < 0 {
		return reject("total flow %.2f is negative", totalFlow)
	}
	return accepted
}

// ValidatePump checks pump status telemetry.
func (v *Validator) ValidatePump(p telemetry.PumpPayload) Result {
	if p.Temperature < pumpTempMin || p.Temperature > pumpTempMax {
		return reject("pump temperature %.2f outside plausible range [%.0f, %.0f]", p.Temperature, pumpTempMin, pumpTempMax)
	}
	if p.Vibration < 0 || p.Vibration > pumpVibrationMax {
		return reject("pump vibration %.2f outside plausible range [0, %.0f]", p.Vibration, pumpVibrationMax)
	}
	if p.PowerConsumption < 0 || p.PowerConsumption > pumpPowerMax {
		return reject("pump power %.2f outside plausible range [0, %.0f]", p.PowerConsumption, pumpPowerMax)
	}
	return accepted
}

// ValidateTank checks tank level telemetry. Level must not exceed capacity.
func (v *Validator) ValidateTank(level, capacity float64) Result {
	if capacity <= 0 {
		return reject("tank capacity %.2f must be positive", capacity)
	}
	if level < 0 || level > capacity {
		return reject("tank level %.2f outside [0, capacity %.2f]", level, capacity)
	}
	return accepted
}

// ValidateLeak checks leak sensor telemetry.
func (v *Validator) ValidateLeak(intensity float64) Result {
	if intensity < 0 || intensity > leakIntensityMax {
		return reject("leak intensity %.2f outside plausible range [0, %.0f]", intensity, leakIntensityMax)
	}
	return accepted
}

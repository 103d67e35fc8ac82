package telemetry

import (
	"time"
)

// DeviceClass identifies the category of field device encoded in the first
// segment of an inbound topic.
type DeviceClass string

const (
	ClassMeter    DeviceClass = "meters"
	ClassQuality  DeviceClass = "quality"
	ClassPressure DeviceClass = "pressure"
	ClassFlow     DeviceClass = "flow"
	ClassPump     DeviceClass = "pumps"
	ClassTank     DeviceClass = "tanks"
	ClassLeak     DeviceClass = "pipes"
)

// Message is one raw broker delivery, consumed synchronously by exactly one
// handler invocation.
type Message struct {
	Class      DeviceClass
	DeviceID   string
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Location is the GPS position reported by positioned devices.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// MeterPayload is published on meters/<deviceId>/reading.
type MeterPayload struct {
	Reading        float64 `json:"reading"`
	Timestamp      string  `json:"timestamp"`
	BatteryLevel   float64 `json:"batteryLevel"`
	SignalStrength float64 `json:"signalStrength"`
}

// QualityPayload is published on quality/<deviceId>/data.
type QualityPayload struct {
	Location       Location `json:"location"`
	LocationName   string   `json:"locationName"`
	Ward           string   `json:"ward"`
	Zone           string   `json:"zone"`
	Timestamp      string   `json:"timestamp"`
	PH             float64  `json:"pH"`
	Turbidity      float64  `json:"turbidity"`
	TDS            float64  `json:"tds"`
	Chlorine       float64  `json:"chlorine"`
	Temperature    float64  `json:"temperature"`
	BatteryLevel   float64  `json:"batteryLevel"`
	SignalStrength float64  `json:"signalStrength"`
}

// PressurePayload is published on pressure/<deviceId>/data.
type PressurePayload struct {
	Pressure     float64  `json:"pressure"`
	Location     Location `json:"location"`
	Timestamp    string   `json:"timestamp"`
	BatteryLevel float64  `json:"batteryLevel"`
}

// FlowPayload is published on flow/<deviceId>/data.
type FlowPayload struct {
	FlowRate  float64  `json:"flowRate"`
	TotalFlow float64  `json:"totalFlow"`
	Location  Location `json:"location"`
	Timestamp string   `json:"timestamp"`
}

// PumpPayload is published on pumps/<deviceId>/status.
type PumpPayload struct {
	Status           string  `json:"status"`
	PowerConsumption float64 `json:"powerConsumption"`
	Temperature      float64 `json:"temperature"`
	Vibration        float64 `json:"vibration"`
	Timestamp        string  `json:"timestamp"`
}

// TankPayload is published on tanks/<deviceId>/level.
type TankPayload struct {
	Level     float64  `json:"level"`
	Capacity  float64  `json:"capacity"`
	Location  Location `json:"location"`
	Timestamp string   `json:"timestamp"`
}

// LeakPayload is published on pipes/<deviceId>/leak.
type LeakPayload struct {
	LeakDetected bool     `json:"leakDetected"`
	Intensity    float64  `json:"intensity"`
	Location     Location `json:"location"`
	Timestamp    string   `json:"timestamp"`
}

package device

// ReliabilityTier is a coarse confidence label for a sensor reading, derived
// from the battery level and signal strength the device reported alongside
// the reading. It is attached to persisted readings as metadata and never
// gates acceptance.
type ReliabilityTier string

const (
	ReliabilityHigh   ReliabilityTier = "high"
	ReliabilityMedium ReliabilityTier = "medium"
	ReliabilityLow    ReliabilityTier = "low"
)

// Reliability classifies a reading's trustworthiness. high needs battery > 70
// and signal > 80; medium needs battery > 30 and signal > 50; everything
// else is low.
func Reliability(batteryLevel, signalStrength float64) ReliabilityTier {
	if batteryLevel > 70 && signalStrength > 80 {
		return ReliabilityHigh
	}
	if batteryLevel > 30 && signalStrength > 50 {
		return ReliabilityMedium
	}
	return ReliabilityLow
}

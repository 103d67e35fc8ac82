package anomaly

import (
	"fmt"
)

// Detector flags implausible jumps in a meter's consumption readings using a
// rolling average of the device's recent valid values.
type Detector struct {
	spikeThreshold            float64
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	return &Detector{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// DetectSpike checks whether a meter value is anomalous against the
// device's recent history. Too little history means no detection.
func (d *Detector) DetectSpike(value float64, historicalValues []float64) (bool, string) {
	if len(historicalValues) < d.minDataPointsForDetection {
		return false, ""
	}

	sum := 0.0
	for _, v := range historicalValues {
		sum += v
	}
	average := sum / float64(len(historicalValues))

	if average > 0 && value > d.spikeThreshold*average {
		return true, fmt.Sprintf("sudden spike detected: value %.2f exceeds %.1fx rolling average %.2f",
			value, d.spikeThreshold, average)
	}

	return false, ""
}

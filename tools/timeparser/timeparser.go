package timeparser

import (
	"fmt"
	"strconv"
	"time"
)

// ParseDeviceTimestamp parses a device-reported timestamp. Field devices are
// inconsistent about encoding: newer firmware sends RFC3339, older meters
// send unix seconds, and some gateways send unix milliseconds.
func ParseDeviceTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': not RFC3339 or unix epoch", raw)
	}

	// Unix milliseconds have at least 13 digits for any modern date;
	// seconds stay below 1e11 until the year 5138.
	if n >= 1e11 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// IsWithinWindow checks if ts falls inside the two-sided acceptance window
// [now - maxAge, now]. Future timestamps fail the check.
func IsWithinWindow(ts, now time.Time, maxAge time.Duration) bool {
	if ts.After(now) {
		return false
	}
	return now.Sub(ts) <= maxAge
}

package device

import (
	"sync"
	"time"
)

// Info is what the registry remembers about a field device.
type Info struct {
	DeviceID       string
	Class          string
	BatteryLevel   float64
	SignalStrength float64
	Reliability    ReliabilityTier
	LastSeen       time.Time
}

// Registry is a bounded in-memory index of recently seen devices. Entries
// expire after the TTL, and when the registry is full the stalest entry is
// evicted to make room. All methods are safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	devices    map[string]Info
	maxDevices int
	ttl        time.Duration
}

// NewRegistry creates a registry bounded to maxDevices entries with the
// given TTL.
func NewRegistry(maxDevices int, ttl time.Duration) *Registry {
	return &Registry{
		devices:    make(map[string]Info),
		maxDevices: maxDevices,
		ttl:        ttl,
	}
}

// Observe records a device sighting, evicting the stalest entry if the
// registry is at capacity and the device is new.
func (r *Registry) Observe(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[info.DeviceID]; !exists && len(r.devices) >= r.maxDevices {
		r.evictStalest()
	}
	r.devices[info.DeviceID] = info
}

// Lookup returns the registry entry for a device if it exists and has not
// expired.
func (r *Registry) Lookup(deviceID string, now time.Time) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.devices[deviceID]
	if !ok {
		return Info{}, false
	}
	if now.Sub(info.LastSeen) > r.ttl {
		delete(r.devices, deviceID)
		return Info{}, false
	}
	return info, true
}

// Sweep removes entries last seen before the TTL and returns the number
// removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, info := range r.devices {
		if now.Sub(info.LastSeen) > r.ttl {
			delete(r.devices, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// evictStalest removes the entry with the oldest LastSeen. Caller holds the
// mutex.
func (r *Registry) evictStalest() {
	var stalestID string
	var stalestAt time.Time
	first := true
	for id, info := range r.devices {
		if first || info.LastSeen.Before(stalestAt) {
			stalestID = id
			stalestAt = info.LastSeen
			first = false
		}
	}
	if stalestID != "" {
		delete(r.devices, stalestID)
	}
}

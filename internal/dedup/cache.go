package dedup

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Cache is a fingerprint cache for detecting re-delivered readings. A
// fingerprint is (deviceId, value, timestamp); an entry present in the cache
// means the reading has already been processed and must not be persisted a
// second time.
//
// CheckAndInsert holds the mutex across lookup and insert, so two concurrent
// messages carrying the same fingerprint cannot both pass.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	retention time.Duration
}

// NewCache creates a fingerprint cache with the given retention window.
func NewCache(retention time.Duration) *Cache {
	return &Cache{
		entries:   make(map[string]time.Time),
		retention: retention,
	}
}

// Fingerprint builds the composite dedup key for a reading.
func Fingerprint(deviceID string, value float64, timestamp time.Time) string {
	return deviceID + "|" + strconv.FormatFloat(value, 'f', -1, 64) + "|" + strconv.FormatInt(timestamp.Unix(), 10)
}

// CheckAndInsert atomically checks whether the fingerprint was already seen
// within the retention window and, if not, records it. Returns true when the
// fingerprint is new and the reading should be processed.
func (c *Cache) CheckAndInsert(fingerprint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seen, ok := c.entries[fingerprint]; ok && now.Sub(seen) <= c.retention {
		return false
	}
	c.entries[fingerprint] = now
	return true
}

// Sweep removes entries older than the retention window and returns the
// number of entries purged.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for fp, seen := range c.entries {
		if now.Sub(seen) > c.retention {
			delete(c.entries, fp)
			purged++
		}
	}
	return purged
}

// Len returns the current number of cached fingerprints.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweeper periodically purges expired fingerprints. It runs as a background
// goroutine under the fx lifecycle.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper and registers it with the fx lifecycle.
func NewSweeper(lc fx.Lifecycle, cache *Cache, interval time.Duration, logger *zap.Logger) *Sweeper {
	s := &Sweeper{
		cache:    cache,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if s.interval <= 0 {
				return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
			}
			runCtx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			go s.run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.cancel()
			<-s.done
			logger.Info("dedup sweeper stopped")
			return nil
		},
	})

	return s
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged := s.cache.Sweep(time.Now())
			if purged > 0 {
				s.logger.Debug("swept expired dedup entries",
					zap.Int("purged", purged),
					zap.Int("remaining", s.cache.Len()),
				)
			}
		}
	}
}

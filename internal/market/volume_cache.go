package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// VolumeCache caches 24h quote volumes per (market, symbol). The scanner
// sorts its universe by these volumes, so a slightly stale value is fine.
// Redis is optional; when the client is nil everything stays in memory.
type VolumeCache struct {
	redis *redis.Client
	ttl   time.Duration

	mu      sync.RWMutex
	local   map[string]volumeEntry
	localOK time.Duration
}

type volumeEntry struct {
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// NewVolumeCache creates a volume cache. The redis client may be nil.
func NewVolumeCache(redisClient *redis.Client, ttl time.Duration) *VolumeCache {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &VolumeCache{
		redis:   redisClient,
		ttl:     ttl,
		local:   make(map[string]volumeEntry),
		localOK: ttl,
	}
}

func volumeKey(kind Kind, symbol string) string {
	return fmt.Sprintf("signalhound:volume24h:%s:%s", kind, symbol)
}

// Get returns the cached 24h quote volume for a symbol.
func (c *VolumeCache) Get(ctx context.Context, kind Kind, symbol string) (float64, bool) {
	key := volumeKey(kind, symbol)

	c.mu.RLock()
	entry, ok := c.local[key]
	c.mu.RUnlock()
	if ok && time.Since(entry.Timestamp) < c.localOK {
		return entry.Volume, true
	}

	if c.redis == nil {
		return 0, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.redis.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("Redis get error - treating as cache miss")
		}
		return 0, false
	}

	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached volume")
		return 0, false
	}

	c.mu.Lock()
	c.local[key] = entry
	c.mu.Unlock()

	return entry.Volume, true
}

// SetAll stores a batch of volumes, typically one whole ticker/24hr response.
func (c *VolumeCache) SetAll(ctx context.Context, kind Kind, volumes map[string]float64) {
	now := time.Now()

	c.mu.Lock()
	for symbol, vol := range volumes {
		c.local[volumeKey(kind, symbol)] = volumeEntry{Volume: vol, Timestamp: now}
	}
	c.mu.Unlock()

	if c.redis == nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := c.redis.Pipeline()
	for symbol, vol := range volumes {
		data, err := json.Marshal(volumeEntry{Volume: vol, Timestamp: now})
		if err != nil {
			continue
		}
		pipe.Set(cacheCtx, volumeKey(kind, symbol), data, c.ttl)
	}
	if _, err := pipe.Exec(cacheCtx); err != nil {
		// Cache write failure is not fatal; the in-memory copy stays usable.
		log.Warn().Err(err).Int("count", len(volumes)).Msg("Failed to cache 24h volumes")
	}
}

// Health checks the Redis connection when one is configured.
func (c *VolumeCache) Health(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

package secrets

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache serves lookups from a Loader snapshot that is refreshed once the TTL
// expires. A failed refresh keeps serving the previous snapshot.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.Mutex
	values   map[string]string
	loadedAt time.Time
	loaded   bool
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source (primarily for testing).
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(logger zerolog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache wraps loader. A non-positive ttl reloads on every lookup.
func NewCache(loader Loader, ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup implements Resolver.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.loaded || c.ttl <= 0 || now.Sub(c.loadedAt) >= c.ttl {
		c.refreshLocked(now)
	}
	value, ok := c.values[key]
	return value, ok
}

// Invalidate forces the next Lookup to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

func (c *Cache) refreshLocked(now time.Time) {
	values, err := c.loader.Load()
	// The timestamp moves even on failure so a broken source is not hammered.
	c.loadedAt = now
	c.loaded = true
	if err != nil {
		c.logger.Warn().Err(err).Int("cached_keys", len(c.values)).Msg("secrets refresh failed, serving previous values")
		return
	}
	c.values = values
}

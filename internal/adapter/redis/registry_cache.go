package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/testtrack-client/internal/domain"
)

const (
	layerMemory = "memory"
	layerRedis  = "redis"

	defaultRegistryLoadTimeout = 10 * time.Second
)

// CacheMetrics receives per-layer cache hits and misses.
type CacheMetrics interface {
	Hit(layer string)
	Miss(layer string)
}

type nopCacheMetrics struct{}

func (nopCacheMetrics) Hit(string)  {}
func (nopCacheMetrics) Miss(string) {}

// RegistryCache implements domain.SplitRegistrySource by layering an in-memory cache
// and Redis in front of the remote registry. Assignment lookups are per visitor and
// always go to the remote service.
type RegistryCache struct {
	rdb      goredis.Cmdable
	remote   domain.SplitRegistrySource
	mem      *memoryCache
	appName  string
	key      string
	redisTTL time.Duration
	group    singleflight.Group
	metrics  CacheMetrics

	// loadTimeout bounds a shared load, which outlives any single caller's context.
	loadTimeout time.Duration
}

var _ domain.SplitRegistrySource = (*RegistryCache)(nil)

func NewRegistryCache(rdb goredis.Cmdable, remote domain.SplitRegistrySource, appName string, ttl time.Duration, metrics CacheMetrics) *RegistryCache {
	if metrics == nil {
		metrics = nopCacheMetrics{}
	}
	return &RegistryCache{
		rdb:      rdb,
		remote:   remote,
		mem:      newMemoryCache(ttl),
		appName:  appName,
		key:      registryCacheKey(appName),
		redisTTL: ttl,
		metrics:  metrics,

		loadTimeout: defaultRegistryLoadTimeout,
	}
}

// StartEvictionTimer runs a periodic goroutine that evicts expired in-memory entries.
// Returns a stop function that should be deferred.
func (r *RegistryCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if evicted := r.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired registry cache entries", "count", evicted)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

func (r *RegistryCache) SplitRegistry(ctx context.Context) (domain.SplitRegistry, error) {
	// Layer 1: in-memory cache
	if registry, ok := r.mem.get(r.key); ok {
		r.metrics.Hit(layerMemory)
		return registry, nil
	}
	r.metrics.Miss(layerMemory)

	// Concurrent misses share one Redis read and one remote call. The load is
	// detached from the caller; a cancelled caller only stops waiting.
	ch := r.group.DoChan(r.key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()
		return r.load(loadCtx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	v, err := res.Val, res.Err
	if err != nil {
		if stale, ok := r.mem.getStale(r.key); ok {
			slog.WarnContext(ctx, "Serving stale split registry", "error", err)
			return stale, nil
		}
		return nil, err
	}
	return v.(domain.SplitRegistry), nil
}

func (r *RegistryCache) SplitWeights(ctx context.Context, splitName string) (domain.Weights, error) {
	registry, err := r.SplitRegistry(ctx)
	if err != nil {
		return nil, err
	}
	weights, ok := registry[splitName]
	if !ok {
		return nil, fmt.Errorf("split %q: %w", splitName, domain.ErrUnknownSplit)
	}
	return weights, nil
}

func (r *RegistryCache) FetchAssignments(ctx context.Context, visitorID string) ([]domain.Assignment, error) {
	return r.remote.FetchAssignments(ctx, visitorID)
}

// Invalidate drops the registry from both cache layers and tells other instances
// to drop their in-memory copy.
func (r *RegistryCache) Invalidate(ctx context.Context) error {
	r.mem.invalidate(r.key)
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate registry cache: %w", err)
	}
	return PublishRegistryInvalidation(ctx, r.rdb, r.appName)
}

func (r *RegistryCache) load(ctx context.Context) (domain.SplitRegistry, error) {
	// Layer 2: Redis cache
	if registry, ok := r.getCached(ctx); ok {
		r.metrics.Hit(layerRedis)
		r.mem.set(r.key, registry)
		return registry, nil
	}
	r.metrics.Miss(layerRedis)

	// Layer 3: remote registry
	registry, err := r.remote.SplitRegistry(ctx)
	if err != nil {
		return nil, fmt.Errorf("split registry lookup failed: %w", err)
	}

	r.mem.set(r.key, registry)
	r.writeCache(ctx, registry)
	return registry, nil
}

func (r *RegistryCache) writeCache(ctx context.Context, registry domain.SplitRegistry) {
	encoded, err := json.Marshal(registry)
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal split registry for Redis cache", "error", err)
		return
	}
	if err := r.rdb.Set(ctx, r.key, encoded, r.redisTTL).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to populate Redis registry cache", "error", err)
	}
}

func (r *RegistryCache) getCached(ctx context.Context) (domain.SplitRegistry, bool) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.WarnContext(ctx, "Redis registry cache GET failed", "error", err)
		}
		return nil, false
	}

	var registry domain.SplitRegistry
	if err := json.Unmarshal(data, &registry); err != nil {
		slog.WarnContext(ctx, "Failed to unmarshal cached split registry", "error", err)
		return nil, false
	}
	return registry, true
}

func registryCacheKey(appName string) string {
	return "split_registry:" + appName
}

// memoryCache is an in-memory L1 cache with TTL-based expiry. Expired entries stay
// readable through getStale until evicted.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryCacheEntry
	ttl     time.Duration
}

type memoryCacheEntry struct {
	registry  domain.SplitRegistry
	expiresAt time.Time
}

func newMemoryCache(ttl time.Duration) *memoryCache {
	return &memoryCache{
		entries: make(map[string]*memoryCacheEntry),
		ttl:     ttl,
	}
}

func (c *memoryCache) get(key string) (domain.SplitRegistry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.registry, true
}

func (c *memoryCache) getStale(key string) (domain.SplitRegistry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.registry, true
}

func (c *memoryCache) set(key string, registry domain.SplitRegistry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &memoryCacheEntry{
		registry:  registry,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *memoryCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictExpired drops entries more than one TTL past expiry, so a stale copy
// survives a short remote outage.
func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	evicted := 0
	for key, entry := range c.entries {
		if entry.expiresAt.Before(cutoff) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

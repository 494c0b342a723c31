package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/pscheid92/testtrack-client/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRemote struct {
	splitRegistryFn    func(ctx context.Context) (domain.SplitRegistry, error)
	fetchAssignmentsFn func(ctx context.Context, visitorID string) ([]domain.Assignment, error)
}

func (m *mockRemote) SplitRegistry(ctx context.Context) (domain.SplitRegistry, error) {
	if m.splitRegistryFn != nil {
		return m.splitRegistryFn(ctx)
	}
	return nil, domain.ErrRegistryUnavailable
}

func (m *mockRemote) FetchAssignments(ctx context.Context, visitorID string) ([]domain.Assignment, error) {
	if m.fetchAssignmentsFn != nil {
		return m.fetchAssignmentsFn(ctx, visitorID)
	}
	return nil, nil
}

func (m *mockRemote) SplitWeights(context.Context, string) (domain.Weights, error) {
	return nil, errors.New("not used")
}

type countingCacheMetrics struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func newCountingCacheMetrics() *countingCacheMetrics {
	return &countingCacheMetrics{hits: map[string]int{}, misses: map[string]int{}}
}

func (m *countingCacheMetrics) Hit(layer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits[layer]++
}

func (m *countingCacheMetrics) Miss(layer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses[layer]++
}

func testRegistry() domain.SplitRegistry {
	return domain.SplitRegistry{
		"button": {"blue": 50, "red": 50},
		"time":   {"beer_thirty": 100},
	}
}

// --- In-memory cache unit tests (no Redis needed) ---

func TestMemoryCache_Miss(t *testing.T) {
	cache := newMemoryCache(10 * time.Second)

	_, hit := cache.get("app")
	assert.False(t, hit)
}

func TestMemoryCache_Hit(t *testing.T) {
	cache := newMemoryCache(10 * time.Second)

	cache.set("app", testRegistry())

	registry, hit := cache.get("app")
	require.True(t, hit)
	assert.Equal(t, domain.Weights{"blue": 50, "red": 50}, registry["button"])
}

func TestMemoryCache_TTLExpiryKeepsStaleCopy(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cache := newMemoryCache(10 * time.Second)
		cache.set("app", testRegistry())

		time.Sleep(9 * time.Second)
		_, hit := cache.get("app")
		assert.True(t, hit, "should still hit at 9 seconds")

		time.Sleep(2 * time.Second)
		_, hit = cache.get("app")
		assert.False(t, hit, "should miss after TTL expires")

		stale, ok := cache.getStale("app")
		assert.True(t, ok)
		assert.Len(t, stale, 2)
	})
}

func TestMemoryCache_ExplicitInvalidation(t *testing.T) {
	cache := newMemoryCache(10 * time.Second)
	cache.set("app", testRegistry())

	cache.invalidate("app")

	_, hit := cache.get("app")
	assert.False(t, hit)
	_, ok := cache.getStale("app")
	assert.False(t, ok)
}

func TestMemoryCache_EvictExpired(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cache := newMemoryCache(10 * time.Second)

		cache.set("app-1", testRegistry())
		time.Sleep(10 * time.Second)
		cache.set("app-2", testRegistry())

		time.Sleep(11 * time.Second)
		assert.Equal(t, 1, cache.evictExpired(), "app-1 is more than a TTL past expiry")
		assert.Equal(t, 1, cache.size())

		time.Sleep(10 * time.Second)
		assert.Equal(t, 1, cache.evictExpired())
		assert.Zero(t, cache.size())
	})
}

// --- Registry cache with Redis (integration) ---

func TestRegistryCache_Layers(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	calls := 0
	remote := &mockRemote{splitRegistryFn: func(context.Context) (domain.SplitRegistry, error) {
		calls++
		return testRegistry(), nil
	}}
	m := newCountingCacheMetrics()
	cache := NewRegistryCache(client, remote, "myapp", time.Minute, m)

	registry, err := cache.SplitRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, testRegistry(), registry)
	assert.Equal(t, 1, calls, "first call goes to the remote registry")

	_, err = cache.SplitRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call hits memory")
	assert.Equal(t, 1, m.hits[layerMemory])

	cache.mem.invalidate(cache.key)
	_, err = cache.SplitRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "memory miss falls back to redis")
	assert.Equal(t, 1, m.hits[layerRedis])
}

func TestRegistryCache_Invalidate(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	remote := &mockRemote{splitRegistryFn: func(context.Context) (domain.SplitRegistry, error) {
		return testRegistry(), nil
	}}
	cache := NewRegistryCache(client, remote, "myapp", time.Minute, nil)

	_, err := cache.SplitRegistry(ctx)
	require.NoError(t, err)
	_, redisHit := cache.getCached(ctx)
	require.True(t, redisHit)

	require.NoError(t, cache.Invalidate(ctx))

	_, hit := cache.mem.get(cache.key)
	assert.False(t, hit)
	_, redisHit = cache.getCached(ctx)
	assert.False(t, redisHit)
}

func TestRegistryCache_CoalescesConcurrentMisses(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	remote := &mockRemote{splitRegistryFn: func(context.Context) (domain.SplitRegistry, error) {
		calls.Add(1)
		<-release
		return testRegistry(), nil
	}}
	cache := NewRegistryCache(client, remote, "myapp", time.Minute, nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_, err := cache.SplitRegistry(ctx)
			assert.NoError(t, err)
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestRegistryCache_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	client := setupTestClient(t)

	release := make(chan struct{})
	var loadErr atomic.Value
	remote := &mockRemote{splitRegistryFn: func(ctx context.Context) (domain.SplitRegistry, error) {
		<-release
		if err := ctx.Err(); err != nil {
			loadErr.Store(err)
			return nil, err
		}
		return testRegistry(), nil
	}}
	cache := NewRegistryCache(client, remote, "myapp", time.Minute, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.SplitRegistry(firstCtx)
		firstErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	second := make(chan domain.SplitRegistry, 1)
	go func() {
		registry, err := cache.SplitRegistry(context.Background())
		assert.NoError(t, err)
		second <- registry
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.Equal(t, testRegistry(), <-second)
	assert.Nil(t, loadErr.Load())
}

func TestRegistryCache_ServesStaleOnRemoteFailure(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	fail := false
	remote := &mockRemote{splitRegistryFn: func(context.Context) (domain.SplitRegistry, error) {
		if fail {
			return nil, domain.ErrRegistryUnavailable
		}
		return testRegistry(), nil
	}}
	cache := NewRegistryCache(client, remote, "myapp", time.Minute, nil)

	_, err := cache.SplitRegistry(ctx)
	require.NoError(t, err)

	fail = true
	cache.mem.entries[cache.key].expiresAt = time.Now().Add(-time.Second)
	require.NoError(t, client.Del(ctx, cache.key).Err())

	registry, err := cache.SplitRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, testRegistry(), registry)
}

func TestRegistryCache_RemoteFailureWithoutCopy(t *testing.T) {
	client := setupTestClient(t)

	cache := NewRegistryCache(client, &mockRemote{}, "myapp", time.Minute, nil)

	_, err := cache.SplitRegistry(context.Background())
	require.ErrorIs(t, err, domain.ErrRegistryUnavailable)
}

func TestRegistryCache_SplitWeights(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	remote := &mockRemote{splitRegistryFn: func(context.Context) (domain.SplitRegistry, error) {
		return testRegistry(), nil
	}}
	cache := NewRegistryCache(client, remote, "myapp", time.Minute, nil)

	weights, err := cache.SplitWeights(ctx, "time")
	require.NoError(t, err)
	assert.Equal(t, domain.Weights{"beer_thirty": 100}, weights)

	_, err = cache.SplitWeights(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrUnknownSplit)
}

func TestRegistryCache_FetchAssignmentsPassesThrough(t *testing.T) {
	remote := &mockRemote{fetchAssignmentsFn: func(_ context.Context, visitorID string) ([]domain.Assignment, error) {
		return []domain.Assignment{{SplitName: "time", Variant: fmt.Sprintf("for-%s", visitorID)}}, nil
	}}
	cache := NewRegistryCache(nil, remote, "myapp", time.Minute, nil)

	got, err := cache.FetchAssignments(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "for-v1", got[0].Variant)
}

package redis

import (
	"testing"
	"time"
)

func BenchmarkMemoryCache_Get(b *testing.B) {
	cache := newMemoryCache(10 * time.Second)
	cache.set("app", testRegistry())

	b.ResetTimer()
	for b.Loop() {
		_, _ = cache.get("app")
	}
}

func BenchmarkMemoryCache_Set(b *testing.B) {
	cache := newMemoryCache(10 * time.Second)
	registry := testRegistry()

	b.ResetTimer()
	for b.Loop() {
		cache.set("app", registry)
	}
}

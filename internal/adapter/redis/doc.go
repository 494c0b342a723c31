// Package redis holds the Redis-backed adapters: the split registry cache and the
// durable task queue, plus client construction with metrics and circuit breaker hooks.
package redis

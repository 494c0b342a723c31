package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

const registryInvalidationChannel = "split_registry:invalidate"

// RegistryInvalidationSubscriber drops the local in-memory registry when any
// instance publishes an invalidation for the same app.
type RegistryInvalidationSubscriber struct {
	rdb   *goredis.Client
	cache *RegistryCache
}

func NewRegistryInvalidationSubscriber(rdb *goredis.Client, cache *RegistryCache) *RegistryInvalidationSubscriber {
	return &RegistryInvalidationSubscriber{rdb: rdb, cache: cache}
}

// Start blocks until ctx is cancelled.
func (s *RegistryInvalidationSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, registryInvalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			s.handleInvalidation(ctx, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *RegistryInvalidationSubscriber) handleInvalidation(ctx context.Context, appName string) {
	if appName == "" {
		slog.WarnContext(ctx, "Empty registry invalidation message")
		return
	}
	if appName != s.cache.appName {
		return
	}

	s.cache.mem.invalidate(s.cache.key)
	slog.DebugContext(ctx, "Split registry cache invalidated via pub/sub", "app", appName)
}

func PublishRegistryInvalidation(ctx context.Context, rdb goredis.Cmdable, appName string) error {
	if err := rdb.Publish(ctx, registryInvalidationChannel, appName).Err(); err != nil {
		return fmt.Errorf("failed to publish registry invalidation: %w", err)
	}
	return nil
}

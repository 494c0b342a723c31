// Command maintenance runs one-off operations against the shared Redis state.
//
//	maintenance [flags] requeue-dead
//	maintenance [flags] invalidate-registry
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/pscheid92/testtrack-client/internal/adapter/redis"
	"github.com/pscheid92/testtrack-client/internal/platform/logging"
	"github.com/pscheid92/testtrack-client/internal/task"
)

func main() {
	var (
		redisURL  = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		queueName = flag.String("queue", envOr("TASK_QUEUE_NAME", "testtrack"), "Task queue name (or set TASK_QUEUE_NAME env)")
		appName   = flag.String("app", os.Getenv("TEST_TRACK_APP_NAME"), "Split registry app name (or set TEST_TRACK_APP_NAME env)")
		limit     = flag.Int("limit", 100, "Maximum number of tasks to requeue")
		dryRun    = flag.Bool("dry-run", false, "Report what would change without writing to Redis")
		verbose   = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}
	if flag.NArg() != 1 {
		log.Fatal("usage: maintenance [flags] requeue-dead|invalidate-registry")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, "text")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rdb, err := redis.NewClient(ctx, *redisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() { _ = rdb.Close() }()
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

	switch cmd := flag.Arg(0); cmd {
	case "requeue-dead":
		if *limit < 1 {
			log.Fatal("--limit must be at least 1")
		}
		err = requeue(ctx, redis.NewTaskQueue(rdb, *queueName), *limit, *dryRun)
	case "invalidate-registry":
		if *appName == "" {
			log.Fatal("App name required (--app or TEST_TRACK_APP_NAME env)")
		}
		err = invalidateRegistry(ctx, redis.NewRegistryCache(rdb, nil, *appName, time.Minute, nil), *dryRun)
	default:
		log.Fatalf("Unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}

func requeue(ctx context.Context, q *redis.TaskQueue, limit int, dryRun bool) error {
	start := time.Now()

	dead, err := q.DeadLen(ctx)
	if err != nil {
		return fmt.Errorf("failed to count dead tasks: %w", err)
	}
	slog.Info("Dead-letter list", "size", dead, "limit", limit, "dry_run", dryRun)

	envelopes, err := q.PeekDead(ctx, int64(limit))
	if err != nil {
		return err
	}
	kinds := map[string]int{}
	for _, data := range envelopes {
		env, _, err := task.Unmarshal(data)
		if err != nil {
			slog.Warn("Dead task is undecodable and will fail again", "envelope", string(data), "error", err)
		}
		kinds[env.Kind]++
		slog.Debug("Dead task", "kind", env.Kind, "attempts", env.Attempts, "enqueued_at", env.EnqueuedAt)
	}
	slog.Info("Dead tasks by kind", "kinds", kinds)

	if dryRun {
		return nil
	}

	moved, err := q.RequeueDead(ctx, limit)
	if err != nil {
		return err
	}

	remaining, err := q.DeadLen(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify dead-letter list: %w", err)
	}
	slog.Info("Requeue summary",
		"moved", moved,
		"remaining", remaining,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func invalidateRegistry(ctx context.Context, cache *redis.RegistryCache, dryRun bool) error {
	if dryRun {
		slog.Info("Would invalidate split registry cache")
		return nil
	}
	if err := cache.Invalidate(ctx); err != nil {
		return err
	}
	slog.Info("Split registry cache invalidated")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}

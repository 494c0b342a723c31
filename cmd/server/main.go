package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/pscheid92/testtrack-client/internal/adapter/httpserver"
	"github.com/pscheid92/testtrack-client/internal/adapter/metrics"
	"github.com/pscheid92/testtrack-client/internal/adapter/redis"
	"github.com/pscheid92/testtrack-client/internal/adapter/testtrack"
	"github.com/pscheid92/testtrack-client/internal/platform/config"
	"github.com/pscheid92/testtrack-client/internal/platform/logging"
	"github.com/pscheid92/testtrack-client/internal/queue"
	"github.com/pscheid92/testtrack-client/internal/session"
)

const cacheEvictionInterval = time.Minute

func runGracefulShutdown(srv *httpserver.Server, dispatcher *queue.Dispatcher) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Sessions still finishing may enqueue until the server is down; drain afterwards.
		if err := dispatcher.StopWithTimeout(); err != nil {
			slog.Error("Failed to drain task buffer", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, remoteMetrics *metrics.RemoteMetrics) (*goredis.Client, *redis.CircuitBreakerHook) {
	breaker := redis.NewCircuitBreakerHook(remoteMetrics)
	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(remoteMetrics), breaker)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client, breaker
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	reg := metrics.NewRegistry()
	remoteMetrics := metrics.NewRemoteMetrics(reg)
	sessionMetrics := metrics.NewSessionMetrics(reg)

	redisClient, breaker := setupRedis(context.Background(), cfg, remoteMetrics)
	defer func() { _ = redisClient.Close() }()

	remote := testtrack.NewClient(testtrack.Config{
		BaseURL:   cfg.TestTrackURL,
		AppName:   cfg.TestTrackAppName,
		AppSecret: cfg.TestTrackAppSecret,
		Timeout:   cfg.RemoteTimeout,
	}, testtrack.WithMetrics(remoteMetrics))

	registry := redis.NewRegistryCache(redisClient, remote, cfg.TestTrackAppName, cfg.RegistryCacheTTL, metrics.NewCacheMetrics(reg))
	stopEviction := registry.StartEvictionTimer(cacheEvictionInterval)
	defer stopEviction()

	subCtx, stopSubscriber := context.WithCancel(context.Background())
	defer stopSubscriber()
	go redis.NewRegistryInvalidationSubscriber(redisClient, registry).Start(subCtx)

	taskQueue := redis.NewTaskQueue(redisClient, cfg.TaskQueueName)
	dispatcher := queue.NewDispatcher(taskQueue, cfg.TaskBufferSize,
		queue.WithClock(clock),
		queue.WithRecorder(sessionMetrics),
	)

	srv := httpserver.NewServer(cfg, session.Deps{
		Registry: registry,
		Linker:   remote,
		Queue:    dispatcher,
		Clock:    clock,
		Recorder: sessionMetrics,
	},
		httpserver.WithMetrics(metrics.NewHTTPMetrics(reg), metrics.Handler(reg)),
		httpserver.WithHealthChecks(
			httpserver.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}},
			httpserver.HealthCheck{Name: "redis_breaker", Check: func(context.Context) error {
				if breaker.GetState() == gobreaker.StateOpen {
					return errors.New("redis circuit breaker is open")
				}
				return nil
			}},
		),
	)

	done := runGracefulShutdown(srv, dispatcher)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

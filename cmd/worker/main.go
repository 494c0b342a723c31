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
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/testtrack-client/internal/adapter/metrics"
	"github.com/pscheid92/testtrack-client/internal/adapter/mixpanel"
	"github.com/pscheid92/testtrack-client/internal/adapter/redis"
	"github.com/pscheid92/testtrack-client/internal/platform/config"
	"github.com/pscheid92/testtrack-client/internal/platform/logging"
	"github.com/pscheid92/testtrack-client/internal/worker"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// newOpsServer serves liveness and metrics for the worker process.
func newOpsServer(reg http.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/health/live", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(reg))
	return e
}

func main() {
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Worker starting", "env", cfg.AppEnv, "queue", cfg.TaskQueueName, "enabled", cfg.TestTrackEnabled)

	reg := metrics.NewRegistry()
	remoteMetrics := metrics.NewRemoteMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(remoteMetrics))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	analytics := mixpanel.NewClient(cfg.MixpanelAPIURL, cfg.MixpanelToken, cfg.RemoteTimeout, remoteMetrics)
	w := worker.New(redis.NewTaskQueue(redisClient, cfg.TaskQueueName), analytics, worker.Config{
		Enabled:     cfg.TestTrackEnabled,
		PollTimeout: cfg.WorkerPollTimeout,
		MaxAttempts: cfg.WorkerMaxAttempts,
	},
		worker.WithClock(clockwork.NewRealClock()),
		worker.WithMetrics(metrics.NewWorkerMetrics(reg)),
	)

	ops := newOpsServer(metrics.Handler(reg))
	go func() {
		if err := ops.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Ops server error", "error", err)
			stop()
		}
	}()

	if err := w.Run(ctx); err != nil {
		slog.Error("Worker error", "error", err)
	}

	slog.Info("Shutdown signal received, cleaning up...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		slog.Error("Ops server shutdown error", "error", err)
	}
}

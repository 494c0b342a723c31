package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	RedisURL  string `env:"REDIS_URL"`

	TestTrackURL       string `env:"TEST_TRACK_URL"`
	TestTrackAppName   string `env:"TEST_TRACK_APP_NAME"`
	TestTrackAppSecret string `env:"TEST_TRACK_APP_SECRET"`
	TestTrackEnabled   bool   `env:"TEST_TRACK_ENABLED" default:"true"`
	MixpanelToken      string `env:"MIXPANEL_TOKEN"`
	MixpanelAPIURL     string `env:"MIXPANEL_API_URL" default:"https://api.mixpanel.com"`

	TrustForwardedProto bool `env:"TRUST_FORWARDED_PROTO" default:"false"`

	RegistryCacheTTL time.Duration `env:"REGISTRY_CACHE_TTL" default:"10s"`
	RemoteTimeout    time.Duration `env:"REMOTE_TIMEOUT" default:"5s"`

	TaskQueueName  string `env:"TASK_QUEUE_NAME" default:"testtrack"`
	TaskBufferSize int    `env:"TASK_BUFFER_SIZE" default:"1024"`

	APIRateLimit float64 `env:"API_RATE_LIMIT" default:"20"`
	APIRateBurst int     `env:"API_RATE_BURST" default:"40"`

	WorkerPollTimeout time.Duration `env:"WORKER_POLL_TIMEOUT" default:"5s"`
	WorkerMaxAttempts int           `env:"WORKER_MAX_ATTEMPTS" default:"5"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	// Ordered so the first missing variable is reported deterministically.
	required := []struct{ name, value string }{
		{"REDIS_URL", cfg.RedisURL},
		{"TEST_TRACK_URL", cfg.TestTrackURL},
		{"TEST_TRACK_APP_NAME", cfg.TestTrackAppName},
		{"TEST_TRACK_APP_SECRET", cfg.TestTrackAppSecret},
		{"MIXPANEL_TOKEN", cfg.MixpanelToken},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	u, err := url.Parse(cfg.TestTrackURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("TEST_TRACK_URL must be an absolute http(s) URL, got %q", cfg.TestTrackURL)
	}
	if cfg.AppEnv == "production" && u.Scheme != "https" {
		return errors.New("TEST_TRACK_URL must use https in production")
	}
	cfg.TestTrackURL = strings.TrimSuffix(cfg.TestTrackURL, "/")

	if cfg.TaskBufferSize < 1 {
		return errors.New("TASK_BUFFER_SIZE must be at least 1")
	}
	if cfg.WorkerMaxAttempts < 1 {
		return errors.New("WORKER_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.RemoteTimeout <= 0 {
		return errors.New("REMOTE_TIMEOUT must be positive")
	}

	return nil
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/testtrack-client/internal/adapter/mixpanel"
	"github.com/pscheid92/testtrack-client/internal/domain"
	"github.com/pscheid92/testtrack-client/internal/platform/logctx"
	"github.com/pscheid92/testtrack-client/internal/platform/retry"
	"github.com/pscheid92/testtrack-client/internal/queue"
	"github.com/pscheid92/testtrack-client/internal/task"
)

const (
	resultOK      = "ok"
	resultSkipped = "skipped"
	resultDead    = "dead"

	popErrorBackoff = time.Second
)

// Analytics is the vendor API the worker reports to.
type Analytics interface {
	Alias(ctx context.Context, aliasID, distinctID string) error
	Track(ctx context.Context, distinctID, event string, props map[string]any) error
}

type Metrics interface {
	TaskProcessed(kind, result string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) TaskProcessed(string, string, time.Duration) {}

type Config struct {
	// Enabled gates all vendor calls. Disabled tasks are acknowledged without effect.
	Enabled        bool
	PollTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RateLimitBackoff is the wait after the vendor answered 429.
	RateLimitBackoff time.Duration
}

// AliasFailedError reports a failed alias call for the given identities.
type AliasFailedError struct {
	ExistingDistinctID string
	AliasID            string
	Err                error
}

func (e *AliasFailedError) Error() string {
	return fmt.Sprintf("mixpanel alias failed for existing_mixpanel_id: %s, alias_id: %s", e.ExistingDistinctID, e.AliasID)
}

func (e *AliasFailedError) Unwrap() error { return e.Err }

type Worker struct {
	consumer  queue.Consumer
	analytics Analytics
	cfg       Config
	clock     clockwork.Clock
	metrics   Metrics
}

type Option func(*Worker)

func WithClock(clock clockwork.Clock) Option {
	return func(w *Worker) { w.clock = clock }
}

func WithMetrics(m Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func New(consumer queue.Consumer, analytics Analytics, cfg Config, opts ...Option) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = cfg.MaxBackoff
	}
	w := &Worker{
		consumer:  consumer,
		analytics: analytics,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		metrics:   nopMetrics{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Task worker started", "enabled", w.cfg.Enabled, "max_attempts", w.cfg.MaxAttempts)
	defer slog.Info("Task worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		envelope, ok, err := w.consumer.Pop(ctx, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to pop task", "error", err)
			select {
			case <-w.clock.After(popErrorBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if !ok {
			continue
		}

		w.Handle(ctx, envelope)
	}
}

// Handle performs one envelope, dead-lettering it when it cannot succeed.
func (w *Worker) Handle(ctx context.Context, data []byte) {
	start := w.clock.Now()
	ctx = logctx.WithCorrelationID(ctx, logctx.NewCorrelationID())

	env, t, err := task.Unmarshal(data)
	if err != nil {
		slog.ErrorContext(ctx, "Rejected undecodable task", "kind", env.Kind, "error", err)
		w.deadLetter(ctx, data)
		w.metrics.TaskProcessed(kindLabel(env.Kind), resultDead, w.clock.Since(start))
		return
	}

	if !w.cfg.Enabled {
		slog.DebugContext(ctx, "Analytics disabled, skipping task", "kind", env.Kind)
		w.metrics.TaskProcessed(env.Kind, resultSkipped, w.clock.Since(start))
		return
	}

	attempts := 0
	policy := retry.Policy{
		MaxAttempts:      w.cfg.MaxAttempts,
		InitialBackoff:   w.cfg.InitialBackoff,
		MaxBackoff:       w.cfg.MaxBackoff,
		RateLimitBackoff: w.cfg.RateLimitBackoff,
		Clock:            w.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.WarnContext(ctx, "Retrying task", "kind", env.Kind, "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	err = retry.DoVoid(ctx, policy, classify, func() error {
		attempts++
		return w.perform(ctx, t)
	})
	if err != nil {
		slog.ErrorContext(ctx, "Task failed", "kind", env.Kind, "attempts", attempts, "error", err)
		env.Attempts += attempts
		w.deadLetterEnvelope(ctx, env, data)
		w.metrics.TaskProcessed(env.Kind, resultDead, w.clock.Since(start))
		return
	}

	slog.DebugContext(ctx, "Task done", "kind", env.Kind, "attempts", attempts)
	w.metrics.TaskProcessed(env.Kind, resultOK, w.clock.Since(start))
}

func (w *Worker) perform(ctx context.Context, t domain.Task) error {
	switch t := t.(type) {
	case *task.AliasTask:
		return w.performAlias(ctx, t)
	case *task.NotificationTask:
		return w.performNotification(ctx, t)
	default:
		return fmt.Errorf("no handler for task kind %q: %w", t.Kind(), domain.ErrInvalidTask)
	}
}

func (w *Worker) performAlias(ctx context.Context, t *task.AliasTask) error {
	if err := w.analytics.Alias(ctx, t.AliasID, t.ExistingDistinctID); err != nil {
		return &AliasFailedError{ExistingDistinctID: t.ExistingDistinctID, AliasID: t.AliasID, Err: err}
	}
	return nil
}

// performNotification sends one event per assignment in split name order. A retry
// resends every event; duplicates are harmless downstream.
func (w *Worker) performNotification(ctx context.Context, t *task.NotificationTask) error {
	ctx = logctx.WithVisitorID(ctx, t.VisitorID)

	splits := make([]string, 0, len(t.NewAssignments))
	for split := range t.NewAssignments {
		splits = append(splits, split)
	}
	slices.Sort(splits)

	for _, split := range splits {
		props := map[string]any{
			"SplitName":    split,
			"SplitVariant": t.NewAssignments[split],
			"TTVisitorID":  t.VisitorID,
		}
		if err := w.analytics.Track(ctx, t.DistinctID, mixpanel.EventSplitAssigned, props); err != nil {
			return fmt.Errorf("track assignment of split %q: %w", split, err)
		}
	}
	return nil
}

func (w *Worker) deadLetterEnvelope(ctx context.Context, env task.Envelope, original []byte) {
	data, err := json.Marshal(env)
	if err != nil {
		data = original
	}
	w.deadLetter(ctx, data)
}

func (w *Worker) deadLetter(ctx context.Context, data []byte) {
	if err := w.consumer.DeadLetter(ctx, data); err != nil {
		slog.ErrorContext(ctx, "Failed to dead-letter task", "error", err, "envelope", string(data))
	}
}

func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrInvalidTask) {
		return retry.Stop
	}
	if errors.Is(err, mixpanel.ErrRateLimited) || errors.Is(err, mixpanel.ErrBreakerOpen) {
		return retry.After
	}
	return retry.Retry
}

func kindLabel(kind string) string {
	if kind == "" {
		return "unknown"
	}
	return kind
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Metrics receives Redis command and breaker observations.
type Metrics interface {
	RedisCommand(operation string, d time.Duration, err error)
	BreakerStateChanged(component, stateName string, state float64)
}

type nopMetrics struct{}

func (nopMetrics) RedisCommand(string, time.Duration, error)    {}
func (nopMetrics) BreakerStateChanged(string, string, float64) {}

// MetricsHook records every Redis command.
type MetricsHook struct {
	metrics Metrics
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(m Metrics) *MetricsHook {
	if m == nil {
		m = nopMetrics{}
	}
	return &MetricsHook{metrics: m}
}

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		conn, err := next(ctx, network, addr)
		h.metrics.RedisCommand("dial", time.Since(start), err)
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.metrics.RedisCommand(cmd.Name(), time.Since(start), ignoreNil(err))
		return err
	}
}

func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.metrics.RedisCommand("pipeline", time.Since(start), ignoreNil(err))
		return err
	}
}

// CircuitBreakerHook fails Redis commands fast once Redis looks unavailable.
// A redis.Nil reply counts as success.
type CircuitBreakerHook struct {
	cb *gobreaker.CircuitBreaker
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// NewCircuitBreakerHook trips after at least 5 requests with a 60% failure rate in a
// 10s window and probes again after 30s.
func NewCircuitBreakerHook(m Metrics) *CircuitBreakerHook {
	if m == nil {
		m = nopMetrics{}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			m.BreakerStateChanged(name, to.String(), breakerState(to))
		},
	})
	return &CircuitBreakerHook{cb: cb}
}

func (h *CircuitBreakerHook) GetState() gobreaker.State  { return h.cb.State() }
func (h *CircuitBreakerHook) GetCounts() gobreaker.Counts { return h.cb.Counts() }

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := h.cb.Execute(func() (any, error) {
			return next(ctx, network, addr)
		})
		if err != nil {
			return nil, fmt.Errorf("circuit breaker dial failed: %w", err)
		}
		return conn.(net.Conn), nil
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		var cmdErr error
		_, err := h.cb.Execute(func() (any, error) {
			cmdErr = next(ctx, cmd)
			return nil, ignoreNil(cmdErr)
		})
		if isBreakerRejection(err) {
			return fmt.Errorf("redis circuit breaker open: %w", err)
		}
		return cmdErr
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		var pipeErr error
		_, err := h.cb.Execute(func() (any, error) {
			pipeErr = next(ctx, cmds)
			return nil, ignoreNil(pipeErr)
		})
		if isBreakerRejection(err) {
			return fmt.Errorf("redis circuit breaker open: %w", err)
		}
		return pipeErr
	}
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func ignoreNil(err error) error {
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	return err
}

func breakerState(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

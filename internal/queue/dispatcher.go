package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/testtrack-client/internal/domain"
	"github.com/pscheid92/testtrack-client/internal/platform/retry"
	"github.com/pscheid92/testtrack-client/internal/task"
)

const (
	pushTimeout     = 2 * time.Second
	pushAttempts    = 3
	pushBackoff     = 100 * time.Millisecond
	pushMaxBackoff  = 1 * time.Second
	defaultStopWait = 10 * time.Second
)

type pending struct {
	kind     string
	envelope []byte
}

// Dispatcher implements domain.TaskQueue on top of a Backend.
type Dispatcher struct {
	backend  Backend
	clock    clockwork.Clock
	recorder Recorder

	mu     sync.RWMutex
	closed bool
	buffer chan pending
	done   chan struct{}
}

type Option func(*Dispatcher)

func WithClock(clock clockwork.Clock) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// NewDispatcher starts the background push loop. bufferSize bounds the number of
// tasks waiting to be pushed.
func NewDispatcher(backend Backend, bufferSize int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:  backend,
		clock:    clockwork.NewRealClock(),
		recorder: nopRecorder{},
		buffer:   make(chan pending, max(bufferSize, 1)),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Enqueue validates t and buffers it. It never waits for the backend.
func (d *Dispatcher) Enqueue(ctx context.Context, t domain.Task) error {
	envelope, err := task.Marshal(t, d.clock.Now())
	if err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return domain.ErrQueueClosed
	}

	select {
	case d.buffer <- pending{kind: t.Kind(), envelope: envelope}:
		d.recorder.BufferDepth(len(d.buffer))
		return nil
	default:
		slog.WarnContext(ctx, "Task buffer full, dropping task", "kind", t.Kind(), "capacity", cap(d.buffer))
		return fmt.Errorf("%s task: %w", t.Kind(), domain.ErrQueueFull)
	}
}

// Stop rejects new tasks and waits until buffered tasks have been pushed or ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.buffer)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		slog.Info("Task dispatcher stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.Warn("Task dispatcher stop timed out", "pending", len(d.buffer))
		return fmt.Errorf("stop task dispatcher: %w", ctx.Err())
	}
}

// StopWithTimeout is Stop bounded by the default drain timeout.
func (d *Dispatcher) StopWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultStopWait)
	defer cancel()
	return d.Stop(ctx)
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for p := range d.buffer {
		d.push(p)
		d.recorder.BufferDepth(len(d.buffer))
	}
}

func (d *Dispatcher) push(p pending) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task push panic recovered", "kind", p.kind, "panic", r)
			d.recorder.TaskPushFailed(p.kind)
		}
	}()

	policy := retry.Policy{
		MaxAttempts:    pushAttempts,
		InitialBackoff: pushBackoff,
		MaxBackoff:     pushMaxBackoff,
		Clock:          d.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Retrying task push", "kind", p.kind, "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	err := retry.DoVoid(context.Background(), policy, retry.Always, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		return d.backend.Push(ctx, p.envelope)
	})
	if err != nil {
		slog.Error("Failed to push task", "kind", p.kind, "error", err)
		d.recorder.TaskPushFailed(p.kind)
		return
	}
	d.recorder.TaskPushed(p.kind)
}

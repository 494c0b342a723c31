package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/testtrack-client/internal/domain"
)

// MemoryQueue is a process-local Backend and Consumer for development and tests.
type MemoryQueue struct {
	clock clockwork.Clock
	items chan []byte

	mu   sync.Mutex
	dead [][]byte
}

func NewMemoryQueue(capacity int, clock clockwork.Clock) *MemoryQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryQueue{clock: clock, items: make(chan []byte, max(capacity, 1))}
}

func (q *MemoryQueue) Push(_ context.Context, envelope []byte) error {
	select {
	case q.items <- envelope:
		return nil
	default:
		return fmt.Errorf("memory queue: %w", domain.ErrQueueFull)
	}
}

func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	select {
	case envelope := <-q.items:
		return envelope, true, nil
	case <-q.clock.After(timeout):
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (q *MemoryQueue) DeadLetter(_ context.Context, envelope []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, envelope)
	return nil
}

func (q *MemoryQueue) Len() int { return len(q.items) }

func (q *MemoryQueue) DeadLetters() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.dead))
	copy(out, q.dead)
	return out
}

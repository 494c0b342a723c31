package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// TaskQueue is a Redis list of task envelopes. Producers LPUSH, the worker BRPOPs,
// so tasks are consumed in FIFO order. Envelopes that exhaust their attempts are
// moved to a dead-letter list for inspection.
type TaskQueue struct {
	rdb     goredis.Cmdable
	key     string
	deadKey string
}

func NewTaskQueue(rdb goredis.Cmdable, name string) *TaskQueue {
	return &TaskQueue{
		rdb:     rdb,
		key:     taskQueueKey(name),
		deadKey: taskQueueKey(name) + ":dead",
	}
}

func (q *TaskQueue) Push(ctx context.Context, envelope []byte) error {
	if err := q.rdb.LPush(ctx, q.key, envelope).Err(); err != nil {
		return fmt.Errorf("failed to push task: %w", err)
	}
	return nil
}

func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to pop task: %w", err)
	}
	// BRPOP replies with [key, value]
	return []byte(res[1]), true, nil
}

func (q *TaskQueue) DeadLetter(ctx context.Context, envelope []byte) error {
	if err := q.rdb.LPush(ctx, q.deadKey, envelope).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter task: %w", err)
	}
	return nil
}

func (q *TaskQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

func (q *TaskQueue) DeadLen(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.deadKey).Result()
}

// PeekDead returns up to n dead-lettered envelopes, oldest first, without removing them.
func (q *TaskQueue) PeekDead(ctx context.Context, n int64) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	res, err := q.rdb.LRange(ctx, q.deadKey, -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead-letter list: %w", err)
	}
	out := make([][]byte, 0, len(res))
	for i := len(res) - 1; i >= 0; i-- {
		out = append(out, []byte(res[i]))
	}
	return out, nil
}

// RequeueDead moves up to limit dead-lettered envelopes back onto the queue, oldest
// first. Each move is atomic, so a crash never loses or duplicates an envelope.
func (q *TaskQueue) RequeueDead(ctx context.Context, limit int) (int, error) {
	moved := 0
	for moved < limit {
		err := q.rdb.LMove(ctx, q.deadKey, q.key, "RIGHT", "LEFT").Err()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("failed to requeue dead task: %w", err)
		}
		moved++
	}
	return moved, nil
}

func taskQueueKey(name string) string {
	return "tasks:" + name
}

package queue

import (
	"context"
	"time"
)

// Backend stores encoded task envelopes until a worker consumes them.
type Backend interface {
	Push(ctx context.Context, envelope []byte) error
}

// Consumer is the worker side of a Backend.
// Pop returns ok=false when nothing arrived within timeout.
type Consumer interface {
	Pop(ctx context.Context, timeout time.Duration) (envelope []byte, ok bool, err error)
	DeadLetter(ctx context.Context, envelope []byte) error
}

// Recorder observes dispatcher activity.
type Recorder interface {
	TaskPushed(kind string)
	TaskPushFailed(kind string)
	BufferDepth(depth int)
}

type nopRecorder struct{}

func (nopRecorder) TaskPushed(string)     {}
func (nopRecorder) TaskPushFailed(string) {}
func (nopRecorder) BufferDepth(int)       {}

package domain

import "context"

// Task is a unit of asynchronous work scheduled by the session engine.
type Task interface {
	Kind() string
	Validate() error
}

// TaskQueue accepts tasks for at-least-once asynchronous execution.
// Enqueue must not wait for the task to run.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

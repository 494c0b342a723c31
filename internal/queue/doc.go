// Package queue hands validated tasks to a durable backend without blocking the
// request that scheduled them.
//
// Dispatcher validates and encodes a task synchronously, then buffers it for a
// background goroutine that pushes it to the Backend with retries. When the buffer
// is full Enqueue fails fast with domain.ErrQueueFull instead of waiting.
package queue

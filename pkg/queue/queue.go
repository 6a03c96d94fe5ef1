// Package queue defines the asynchronous work-queue contract used to
// offload tool executions, plus the per-execution uniqueness lock that
// guarantees at most one in-flight run per execution id.
//
// Two implementations exist: a Redis Streams queue for production
// (durable, consumer groups, idle-claim redelivery) and an in-memory
// queue for tests and single-process deployments. Internal and external
// tools are enqueued on separate lanes so their backpressure can be
// tuned independently.
package queue

import (
	"context"
	"errors"
	"time"
)

// Lane names select independent delivery channels by tool kind.
const (
	LaneInternal = "internal"
	LaneExternal = "external"
)

// ErrClosed is returned by Enqueue after the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Task is one unit of asynchronous work: run a single tool execution.
type Task struct {
	// ExecutionID identifies the execution record to process.
	ExecutionID string

	// TenantID scopes the worker's storage operations.
	TenantID string

	// Lane selects the delivery channel (LaneInternal or LaneExternal).
	Lane string

	// Attempt is the 1-based delivery attempt, set by the consumer.
	Attempt int

	// MaxAttempts bounds retries. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

// DefaultMaxAttempts is the attempt ceiling applied when a task does
// not carry its own.
const DefaultMaxAttempts = 3

// Handler processes one task attempt. Returning an error requeues the
// task until MaxAttempts is reached; the handler itself is responsible
// for recording terminal failure state on the final attempt.
type Handler func(ctx context.Context, task Task) error

// Queue accepts tasks for asynchronous processing.
type Queue interface {
	// Enqueue submits a task to its lane. It returns once the task is
	// durably accepted; it never waits for execution.
	Enqueue(ctx context.Context, task Task) error
}

// Locker provides uniqueness locks with a bounded lease. Acquire
// returns false when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string, lease time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RetryBackoff returns the delay before redelivering the given attempt:
// 1s, 2s, 4s, ... capped at 30s.
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second << (attempt - 1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// maxAttempts normalizes a task's attempt ceiling.
func maxAttempts(task Task) int {
	if task.MaxAttempts > 0 {
		return task.MaxAttempts
	}
	return DefaultMaxAttempts
}

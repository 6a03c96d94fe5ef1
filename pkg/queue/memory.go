package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue backed by buffered channels and a
// goroutine pool per lane. Tasks do not survive a restart; it exists
// for tests and single-node deployments.
type MemoryQueue struct {
	handler Handler

	mu     sync.Mutex
	lanes  map[string]chan Task
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// sleep is replaceable in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

// Ensure MemoryQueue implements Queue at compile time.
var _ Queue = (*MemoryQueue)(nil)

// NewMemory creates a memory queue whose consumers invoke handler with
// the given per-lane concurrency.
func NewMemory(handler Handler, workersPerLane int) *MemoryQueue {
	if workersPerLane <= 0 {
		workersPerLane = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		handler: handler,
		lanes:   make(map[string]chan Task),
		ctx:     ctx,
		cancel:  cancel,
		sleep:   func(d time.Duration) { time.Sleep(d) },
	}
	for _, lane := range []string{LaneInternal, LaneExternal} {
		ch := make(chan Task, 256)
		q.lanes[lane] = ch
		for range workersPerLane {
			q.wg.Add(1)
			go q.consume(ch)
		}
	}
	return q
}

// Enqueue submits a task to its lane.
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	ch, ok := q.lanes[task.Lane]
	q.mu.Unlock()

	if !ok {
		ch = q.lanes[LaneInternal]
	}
	if task.Attempt == 0 {
		task.Attempt = 1
	}

	select {
	case ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consume drains a lane channel, retrying failed tasks with backoff
// until their attempt ceiling.
func (q *MemoryQueue) consume(ch chan Task) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-ch:
			q.process(ch, task)
		}
	}
}

func (q *MemoryQueue) process(ch chan Task, task Task) {
	err := q.handler(q.ctx, task)
	if err == nil {
		return
	}

	if task.Attempt >= maxAttempts(task) {
		slog.Warn("task exhausted attempts",
			"execution_id", task.ExecutionID,
			"attempts", task.Attempt,
			"error", err,
		)
		return
	}

	retry := task
	retry.Attempt++
	q.sleep(RetryBackoff(task.Attempt))

	select {
	case ch <- retry:
	case <-q.ctx.Done():
	}
}

// Close stops the consumers. Pending tasks are dropped.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

// MemoryLocker is an in-process Locker with lease expiry.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> lease expiry
}

// Ensure MemoryLocker implements Locker at compile time.
var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]time.Time)}
}

// Acquire takes the lock unless it is held with an unexpired lease.
func (l *MemoryLocker) Acquire(_ context.Context, key string, lease time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiry, held := l.locks[key]; held && now.Before(expiry) {
		return false, nil
	}
	l.locks[key] = now.Add(lease)
	return true, nil
}

// Release drops the lock.
func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}

package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/debug"
	"github.com/chatdesk/toolgate/pkg/executor"
	"github.com/chatdesk/toolgate/pkg/observability"
	"github.com/chatdesk/toolgate/pkg/queue"
	"github.com/chatdesk/toolgate/pkg/schema"
	"github.com/chatdesk/toolgate/pkg/storage"
)

const (
	// AttemptTimeout bounds the wall clock of a single execution
	// attempt.
	AttemptTimeout = 120 * time.Second

	// LockLease bounds how long a worker may hold an execution's
	// uniqueness lock. A crashed worker's lock expires after this.
	LockLease = 5 * time.Minute
)

// Worker processes queued execution tasks. One Process call runs all
// attempts of an execution to a terminal state; the queue's own retry
// machinery only covers infrastructure failures that happen before the
// execution leaves the accepted state.
type Worker struct {
	store     storage.Store
	locker    queue.Locker
	executors map[api.ToolKind]executor.Executor
	log       *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// NewWorker creates a worker dispatching to the given executors by tool
// kind.
func NewWorker(store storage.Store, locker queue.Locker, executors ...executor.Executor) *Worker {
	byKind := make(map[api.ToolKind]executor.Executor, len(executors))
	for _, e := range executors {
		byKind[e.Kind()] = e
	}
	return &Worker{
		store:     store,
		locker:    locker,
		executors: byKind,
		log:       slog.Default(),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Handler adapts the worker to the queue's handler contract.
func (w *Worker) Handler() queue.Handler {
	return w.Process
}

// Process runs one queued execution to a terminal state. It is safe
// under duplicate delivery: a per-execution lock keeps concurrent
// deliveries out, and any delivery that finds the execution outside the
// accepted state exits without effect.
func (w *Worker) Process(ctx context.Context, task queue.Task) error {
	ctx = storage.SetTenant(ctx, task.TenantID)
	log := w.log.With("execution_id", task.ExecutionID, "lane", task.Lane)

	held, err := w.locker.Acquire(ctx, task.ExecutionID, LockLease)
	if err != nil {
		return fmt.Errorf("acquiring execution lock: %w", err)
	}
	if !held {
		log.Info("execution already in flight, dropping duplicate delivery")
		return nil
	}
	defer func() {
		if err := w.locker.Release(context.WithoutCancel(ctx), task.ExecutionID); err != nil {
			log.Warn("releasing execution lock", "error", err)
		}
	}()

	observability.QueueDepth.WithLabelValues(task.Lane).Inc()
	defer observability.QueueDepth.WithLabelValues(task.Lane).Dec()

	exec, err := w.store.GetExecution(ctx, task.ExecutionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("queued execution no longer exists")
			return nil
		}
		return fmt.Errorf("loading execution: %w", err)
	}
	if exec.Status != api.StatusAccepted {
		log.Debug("execution no longer accepted, dropping", "status", exec.Status)
		return nil
	}

	if err := w.store.TransitionExecution(ctx, exec.ID, api.StatusAccepted, api.StatusRunning, nil, nil); err != nil {
		if errors.Is(err, storage.ErrStaleStatus) {
			// Lost a race with a cancellation.
			log.Debug("execution left accepted state before pickup")
			return nil
		}
		return fmt.Errorf("starting execution: %w", err)
	}

	tool, err := w.store.GetTool(ctx, exec.ToolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return w.fail(ctx, log, nil, exec, 1, maxAttempts(task),
				fmt.Errorf("tool %s no longer exists", exec.ToolID))
		}
		return fmt.Errorf("loading tool: %w", err)
	}
	log = log.With("tool_slug", tool.Slug, "kind", tool.Kind)

	exe, ok := w.executors[tool.Kind]
	if !ok {
		return w.fail(ctx, log, tool, exec, 1, maxAttempts(task),
			fmt.Errorf("no executor registered for kind %q", tool.Kind))
	}

	return w.run(ctx, log, exe, tool, exec, maxAttempts(task))
}

// run drives the attempt loop to a terminal state. It returns a non-nil
// error only for storage failures while recording state.
func (w *Worker) run(ctx context.Context, log *slog.Logger, exe executor.Executor, tool *api.Tool, exec *api.Execution, max int) error {
	start := w.now()

	for attempt := 1; attempt <= max; attempt++ {
		debug.Log("worker", "starting attempt",
			"execution_id", exec.ID, "tool", tool.Slug, "attempt", attempt, "max", max)
		result, err := w.attempt(ctx, exe, tool, exec, attempt)
		if err == nil {
			if err := w.succeed(ctx, tool, exec, result); err != nil {
				return err
			}
			log.Info("execution succeeded",
				"attempt", attempt,
				"duration", w.now().Sub(start),
			)
			observability.ExecutionDuration.WithLabelValues(string(tool.Kind)).Observe(w.now().Sub(start).Seconds())
			return nil
		}

		var fatal *executor.FatalError
		if errors.As(err, &fatal) {
			log.Error("execution failed permanently", "attempt", attempt, "error", err)
			return w.fail(ctx, log, tool, exec, attempt, max, err)
		}
		if attempt == max {
			log.Error("execution failed, attempts exhausted", "attempt", attempt, "error", err)
			return w.fail(ctx, log, tool, exec, attempt, max,
				fmt.Errorf("max attempts exhausted: %w", err))
		}

		observability.ExecutionRetriesTotal.WithLabelValues(string(tool.Kind)).Inc()
		backoff := queue.RetryBackoff(attempt)
		log.Warn("execution attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", max,
			"backoff", backoff,
			"error", err,
		)
		w.sleep(backoff)
	}
	return nil
}

// attempt runs one bounded execution attempt and validates its result
// against the tool's output schema.
func (w *Worker) attempt(ctx context.Context, exe executor.Executor, tool *api.Tool, exec *api.Execution, attempt int) (map[string]any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	defer cancel()

	result, err := exe.Execute(attemptCtx, executor.Invocation{
		Tool:      tool,
		Execution: exec,
		Attempt:   attempt,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("attempt timed out after %s", AttemptTimeout)
		}
		return nil, err
	}

	if verr := schema.ValidateResult(tool, result); verr != nil {
		observability.ValidationFailuresTotal.WithLabelValues("output").Inc()
		// The side effect already happened; re-running it to fix the
		// result's shape would break at-most-once semantics, so this
		// failure is terminal.
		return nil, executor.Fatal("result failed output schema: %v", verr)
	}
	return result, nil
}

// succeed records the terminal success state, then the tool's
// bookkeeping. The order matters: the execution's own state is the
// source of truth and must land first.
func (w *Worker) succeed(ctx context.Context, tool *api.Tool, exec *api.Execution, result map[string]any) error {
	if err := w.store.TransitionExecution(ctx, exec.ID, api.StatusRunning, api.StatusSuccess, result, nil); err != nil {
		return fmt.Errorf("recording success: %w", err)
	}
	observability.ExecutionsTotal.WithLabelValues(string(tool.Kind), string(api.StatusSuccess)).Inc()

	executedAt := w.now().UTC()
	if err := w.store.UpdateToolLastRun(ctx, tool.ID, &executedAt, nil); err != nil {
		// The execution already succeeded; stale tool bookkeeping is
		// not worth failing the task over.
		w.log.Warn("updating tool bookkeeping", "tool_id", tool.ID, "error", err)
	}
	return nil
}

// fail records the terminal failed state and, because this is the final
// attempt, the tool's last_error bookkeeping. tool may be nil when the
// tool itself could not be loaded.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, tool *api.Tool, exec *api.Execution, attempt, max int, cause error) error {
	kind := "unknown"
	if tool != nil {
		kind = string(tool.Kind)
	}
	execErr := &api.ExecutionError{
		Message:     cause.Error(),
		Kind:        kind,
		Attempt:     attempt,
		MaxAttempts: max,
		OccurredAt:  w.now().UTC(),
	}

	if err := w.store.TransitionExecution(ctx, exec.ID, api.StatusRunning, api.StatusFailed, nil, execErr); err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	observability.ExecutionsTotal.WithLabelValues(kind, string(api.StatusFailed)).Inc()

	if tool != nil {
		if err := w.store.UpdateToolLastRun(ctx, tool.ID, nil, execErr); err != nil {
			log.Warn("updating tool bookkeeping", "tool_id", tool.ID, "error", err)
		}
	}
	return nil
}

func maxAttempts(task queue.Task) int {
	if task.MaxAttempts > 0 {
		return task.MaxAttempts
	}
	return queue.DefaultMaxAttempts
}

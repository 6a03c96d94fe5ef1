package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/observability"
	"github.com/chatdesk/toolgate/pkg/queue"
	"github.com/chatdesk/toolgate/pkg/schema"
	"github.com/chatdesk/toolgate/pkg/storage"
)

// TopToolLimit bounds the most-used-tools list in execution stats.
const TopToolLimit = 5

// ToolUsage pairs a tool slug with its execution count.
type ToolUsage struct {
	Slug  string `json:"slug"`
	Count int    `json:"count"`
}

// Stats summarizes an agent's execution history. SuccessRate is a
// percentage over completed (success or failed) executions; it is 0
// when nothing has completed yet.
type Stats struct {
	Total       int         `json:"total"`
	Successful  int         `json:"successful"`
	Failed      int         `json:"failed"`
	Pending     int         `json:"pending"`
	SuccessRate float64     `json:"success_rate"`
	TopTools    []ToolUsage `json:"top_tools"`
}

// Orchestrator is the entry point of the execution pipeline: it
// authorizes the agent against the tool, validates the payload, persists
// the execution record, and hands the work to the queue. It never runs
// a tool itself except through ExecuteSync.
type Orchestrator struct {
	store  storage.Store
	queue  queue.Queue
	worker *Worker
	log    *slog.Logger

	now func() time.Time
}

// NewOrchestrator creates an orchestrator. worker is only exercised by
// ExecuteSync; asynchronous work reaches it through the queue's own
// consumers.
func NewOrchestrator(store storage.Store, q queue.Queue, worker *Worker) *Orchestrator {
	return &Orchestrator{
		store:  store,
		queue:  q,
		worker: worker,
		log:    slog.Default(),
		now:    time.Now,
	}
}

// Execute accepts a tool execution request and enqueues it. It returns
// the accepted execution record without waiting for the run. Errors are
// tool_not_found, tool_disabled, tool_not_authorized, or a schema
// validation failure.
func (o *Orchestrator) Execute(ctx context.Context, agent *api.Agent, slug string, payload map[string]any) (*api.Execution, error) {
	ctx = storage.SetTenant(ctx, agent.TenantID)

	tool, err := o.resolveTool(ctx, agent, slug)
	if err != nil {
		return nil, err
	}
	if err := o.validatePayload(tool, payload); err != nil {
		return nil, err
	}

	exec, err := o.accept(ctx, agent, tool, payload)
	if err != nil {
		return nil, err
	}

	task := taskFor(exec, tool)
	if err := o.queue.Enqueue(ctx, task); err != nil {
		// The record exists but nothing will ever run it; fail it so
		// the agent sees a terminal state instead of a stuck one.
		o.abandon(ctx, exec, err)
		return nil, fmt.Errorf("enqueueing execution %s: %w", exec.ID, err)
	}

	o.log.Info("execution accepted",
		"execution_id", exec.ID,
		"tool_slug", tool.Slug,
		"agent_id", agent.ID,
		"lane", task.Lane,
	)
	return exec, nil
}

// ExecuteSync runs a tool to completion on the caller's goroutine,
// bypassing the queue but sharing the worker's attempt loop, state
// machine, and bookkeeping. It returns the terminal execution record.
func (o *Orchestrator) ExecuteSync(ctx context.Context, agent *api.Agent, slug string, payload map[string]any) (*api.Execution, error) {
	ctx = storage.SetTenant(ctx, agent.TenantID)

	tool, err := o.resolveTool(ctx, agent, slug)
	if err != nil {
		return nil, err
	}
	if err := o.validatePayload(tool, payload); err != nil {
		return nil, err
	}

	exec, err := o.accept(ctx, agent, tool, payload)
	if err != nil {
		return nil, err
	}

	if err := o.worker.Process(ctx, taskFor(exec, tool)); err != nil {
		return nil, fmt.Errorf("running execution %s: %w", exec.ID, err)
	}
	return o.store.GetExecution(ctx, exec.ID)
}

// Cancel cancels an execution that has not started running. Anything
// past accepted cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, agent *api.Agent, executionID string) (*api.Execution, error) {
	ctx = storage.SetTenant(ctx, agent.TenantID)

	exec, err := o.getOwned(ctx, agent, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != api.StatusAccepted {
		return nil, api.NewInvalidStateError(api.CodeCannotCancel, exec.Status,
			fmt.Sprintf("execution %s cannot be cancelled from status %q", executionID, exec.Status))
	}

	err = o.store.TransitionExecution(ctx, executionID, api.StatusAccepted, api.StatusCancelled, nil, nil)
	if err != nil {
		if errors.Is(err, storage.ErrStaleStatus) {
			// A worker picked it up between our read and the CAS.
			current, gerr := o.store.GetExecution(ctx, executionID)
			status := api.StatusRunning
			if gerr == nil {
				status = current.Status
			}
			return nil, api.NewInvalidStateError(api.CodeCannotCancel, status,
				fmt.Sprintf("execution %s cannot be cancelled from status %q", executionID, status))
		}
		return nil, err
	}

	observability.ExecutionsTotal.WithLabelValues("unknown", string(api.StatusCancelled)).Inc()
	o.log.Info("execution cancelled", "execution_id", executionID, "agent_id", agent.ID)
	return o.store.GetExecution(ctx, executionID)
}

// Retry re-submits a failed execution as a new record with the same
// payload. The tool is re-resolved and the payload re-validated, so a
// tool disabled or re-schemed since the original run fails here.
func (o *Orchestrator) Retry(ctx context.Context, agent *api.Agent, executionID string) (*api.Execution, error) {
	ctx = storage.SetTenant(ctx, agent.TenantID)

	exec, err := o.getOwned(ctx, agent, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != api.StatusFailed {
		return nil, api.NewInvalidStateError(api.CodeCannotRetry, exec.Status,
			fmt.Sprintf("execution %s cannot be retried from status %q", executionID, exec.Status))
	}

	return o.Execute(ctx, agent, exec.ToolSlug, maps.Clone(exec.Payload))
}

// ListExecutions returns the agent's executions, newest first.
func (o *Orchestrator) ListExecutions(ctx context.Context, agent *api.Agent, filter storage.ExecutionFilter) ([]*api.Execution, error) {
	ctx = storage.SetTenant(ctx, agent.TenantID)
	return o.store.ListExecutions(ctx, agent.ID, filter)
}

// GetExecution returns one of the agent's executions by id.
func (o *Orchestrator) GetExecution(ctx context.Context, agent *api.Agent, executionID string) (*api.Execution, error) {
	ctx = storage.SetTenant(ctx, agent.TenantID)
	return o.getOwned(ctx, agent, executionID)
}

// ExecutionStats aggregates the agent's execution history, optionally
// limited to executions created after since.
func (o *Orchestrator) ExecutionStats(ctx context.Context, agent *api.Agent, since *time.Time) (*Stats, error) {
	ctx = storage.SetTenant(ctx, agent.TenantID)

	raw, err := o.store.ExecutionStats(ctx, agent.ID, since)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:      raw.Total,
		Successful: raw.Successful,
		Failed:     raw.Failed,
		Pending:    raw.Pending,
		TopTools:   topTools(raw.ToolCounts, TopToolLimit),
	}
	if completed := raw.Successful + raw.Failed; completed > 0 {
		stats.SuccessRate = float64(raw.Successful) / float64(completed) * 100
	}
	return stats, nil
}

// resolveTool finds the agent's tool by slug and enforces access:
// linked, same tenant, enabled.
func (o *Orchestrator) resolveTool(ctx context.Context, agent *api.Agent, slug string) (*api.Tool, error) {
	linked, err := o.store.ListAgentTools(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	for _, tool := range linked {
		if tool.Slug != slug {
			continue
		}
		if tool.TenantID != agent.TenantID {
			return nil, api.NewNotAuthorizedError(agent.ID, slug)
		}
		if !tool.Enabled {
			return nil, api.NewToolDisabledError(slug)
		}
		return tool, nil
	}
	return nil, api.NewToolNotFoundError(slug)
}

func (o *Orchestrator) validatePayload(tool *api.Tool, payload map[string]any) error {
	if err := schema.ValidatePayload(tool, payload); err != nil {
		observability.ValidationFailuresTotal.WithLabelValues("input").Inc()
		return err
	}
	return nil
}

// accept persists a new execution record in the accepted state.
func (o *Orchestrator) accept(ctx context.Context, agent *api.Agent, tool *api.Tool, payload map[string]any) (*api.Execution, error) {
	now := o.now().UTC()
	exec := &api.Execution{
		ID:        api.NewExecutionID(),
		TenantID:  agent.TenantID,
		ToolID:    tool.ID,
		ToolSlug:  tool.Slug,
		AgentID:   agent.ID,
		Payload:   payload,
		Status:    api.StatusAccepted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("persisting execution: %w", err)
	}
	return exec, nil
}

// abandon fails an execution that was accepted but could not be
// enqueued.
func (o *Orchestrator) abandon(ctx context.Context, exec *api.Execution, cause error) {
	execErr := &api.ExecutionError{
		Message:     fmt.Sprintf("enqueue failed: %v", cause),
		Kind:        "queue",
		Attempt:     0,
		MaxAttempts: queue.DefaultMaxAttempts,
		OccurredAt:  o.now().UTC(),
	}
	// accepted→failed is outside the worker's state machine edges but
	// the record would otherwise be stuck in accepted forever; route it
	// through running first to keep transitions well-formed.
	if err := o.store.TransitionExecution(ctx, exec.ID, api.StatusAccepted, api.StatusRunning, nil, nil); err != nil {
		o.log.Error("abandoning execution", "execution_id", exec.ID, "error", err)
		return
	}
	if err := o.store.TransitionExecution(ctx, exec.ID, api.StatusRunning, api.StatusFailed, nil, execErr); err != nil {
		o.log.Error("abandoning execution", "execution_id", exec.ID, "error", err)
	}
}

// getOwned fetches an execution and hides it from agents that do not
// own it.
func (o *Orchestrator) getOwned(ctx context.Context, agent *api.Agent, executionID string) (*api.Execution, error) {
	exec, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.AgentID != agent.ID {
		return nil, storage.ErrNotFound
	}
	return exec, nil
}

// taskFor maps a tool's kind to its queue lane.
func taskFor(exec *api.Execution, tool *api.Tool) queue.Task {
	lane := queue.LaneExternal
	if tool.Kind == api.ToolKindInternal {
		lane = queue.LaneInternal
	}
	return queue.Task{
		ExecutionID: exec.ID,
		TenantID:    exec.TenantID,
		Lane:        lane,
		MaxAttempts: queue.DefaultMaxAttempts,
	}
}

// topTools ranks tool usage counts descending, slugs ascending on ties.
func topTools(counts map[string]int, limit int) []ToolUsage {
	usage := make([]ToolUsage, 0, len(counts))
	for slug, count := range counts {
		usage = append(usage, ToolUsage{Slug: slug, Count: count})
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].Count != usage[j].Count {
			return usage[i].Count > usage[j].Count
		}
		return usage[i].Slug < usage[j].Slug
	})
	if len(usage) > limit {
		usage = usage[:limit]
	}
	return usage
}

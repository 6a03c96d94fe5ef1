package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/queue"
	"github.com/chatdesk/toolgate/pkg/schema"
	"github.com/chatdesk/toolgate/pkg/storage"
)

// recordingQueue captures enqueued tasks without running anything.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) last(t *testing.T) queue.Task {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		t.Fatal("nothing enqueued")
	}
	return q.tasks[len(q.tasks)-1]
}

func newTestOrchestrator(f *fixture, q queue.Queue, exe *stubExecutor) *Orchestrator {
	if exe == nil {
		exe = &stubExecutor{kind: api.ToolKindInternal, outcomes: []stubOutcome{
			{result: map[string]any{"ticket_id": "tick-1"}},
		}}
	}
	return NewOrchestrator(f.store, q, newTestWorker(f.store, exe))
}

func TestOrchestratorExecuteAccepts(t *testing.T) {
	f := newFixture(t)
	q := &recordingQueue{}
	o := newTestOrchestrator(f, q, nil)

	exec, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "help"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if exec.Status != api.StatusAccepted {
		t.Errorf("status = %q, want accepted", exec.Status)
	}
	if !api.ValidateExecutionID(exec.ID) {
		t.Errorf("malformed execution id %q", exec.ID)
	}

	task := q.last(t)
	if task.ExecutionID != exec.ID {
		t.Errorf("task execution id = %q", task.ExecutionID)
	}
	if task.Lane != queue.LaneInternal {
		t.Errorf("lane = %q, want internal for an internal tool", task.Lane)
	}
	if task.TenantID != "tenant-1" {
		t.Errorf("tenant = %q", task.TenantID)
	}

	// The record is persisted before the queue sees it.
	if got := getExecution(t, f.store, exec.ID); got.Status != api.StatusAccepted {
		t.Errorf("persisted status = %q", got.Status)
	}
}

func TestOrchestratorExecuteUnknownTool(t *testing.T) {
	f := newFixture(t)
	o := newTestOrchestrator(f, &recordingQueue{}, nil)

	_, err := o.Execute(context.Background(), f.agent, "no-such-tool", nil)

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeToolNotFound {
		t.Fatalf("expected tool_not_found, got %v", err)
	}
}

func TestOrchestratorExecuteDisabledTool(t *testing.T) {
	f := newFixture(t)
	ctx := storage.SetTenant(context.Background(), "tenant-1")

	disabled := *f.tool
	disabled.ID = api.NewToolID()
	disabled.Slug = "disabled-tool"
	disabled.Enabled = false
	if err := f.store.SaveTool(ctx, &disabled); err != nil {
		t.Fatalf("SaveTool: %v", err)
	}
	if err := f.store.LinkTool(ctx, f.agent.ID, disabled.ID); err != nil {
		t.Fatalf("LinkTool: %v", err)
	}

	o := newTestOrchestrator(f, &recordingQueue{}, nil)
	_, err := o.Execute(context.Background(), f.agent, "disabled-tool", map[string]any{"title": "x"})

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeToolDisabled {
		t.Fatalf("expected tool_disabled, got %v", err)
	}
}

func TestOrchestratorExecuteUnlinkedToolNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := storage.SetTenant(context.Background(), "tenant-1")

	other := &api.Agent{ID: api.NewAgentID(), TenantID: "tenant-1", Name: "other-bot", CreatedAt: time.Now()}
	if err := f.store.SaveAgent(ctx, other); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	o := newTestOrchestrator(f, &recordingQueue{}, nil)
	_, err := o.Execute(context.Background(), other, "create-ticket", map[string]any{"title": "x"})

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeToolNotFound {
		t.Fatalf("expected tool_not_found for unlinked agent, got %v", err)
	}
}

func TestOrchestratorExecuteInvalidPayload(t *testing.T) {
	f := newFixture(t)
	q := &recordingQueue{}
	o := newTestOrchestrator(f, q, nil)

	_, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{
		"title":      "ok",
		"unexpected": "field",
	})

	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(q.tasks) != 0 {
		t.Error("invalid payload must not reach the queue")
	}
}

func TestOrchestratorExecuteEnqueueFailureFailsRecord(t *testing.T) {
	f := newFixture(t)
	q := &recordingQueue{err: errors.New("broker unavailable")}
	o := newTestOrchestrator(f, q, nil)

	_, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "x"})
	if err == nil {
		t.Fatal("expected enqueue error")
	}

	// The persisted record must end in a terminal state, not hang in
	// accepted with no task behind it.
	ctx := storage.SetTenant(context.Background(), "tenant-1")
	execs, lerr := f.store.ListExecutions(ctx, f.agent.ID, storage.ExecutionFilter{})
	if lerr != nil {
		t.Fatalf("ListExecutions: %v", lerr)
	}
	if len(execs) != 1 {
		t.Fatalf("got %d executions, want 1", len(execs))
	}
	if execs[0].Status != api.StatusFailed {
		t.Errorf("status = %q, want failed", execs[0].Status)
	}
}

func TestOrchestratorExecuteSync(t *testing.T) {
	f := newFixture(t)
	o := newTestOrchestrator(f, &recordingQueue{}, nil)

	exec, err := o.ExecuteSync(context.Background(), f.agent, "create-ticket", map[string]any{"title": "help"})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if exec.Status != api.StatusSuccess {
		t.Fatalf("status = %q, want success", exec.Status)
	}
	if exec.Result["ticket_id"] != "tick-1" {
		t.Errorf("result = %v", exec.Result)
	}
}

func TestOrchestratorCancel(t *testing.T) {
	f := newFixture(t)
	o := newTestOrchestrator(f, &recordingQueue{}, nil)

	exec, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	cancelled, err := o.Cancel(context.Background(), f.agent, exec.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != api.StatusCancelled {
		t.Errorf("status = %q, want cancelled", cancelled.Status)
	}

	// Terminal states cannot be cancelled again.
	_, err = o.Cancel(context.Background(), f.agent, exec.ID)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeCannotCancel {
		t.Fatalf("expected cannot_cancel, got %v", err)
	}
}

func TestOrchestratorCancelRunningExecution(t *testing.T) {
	f := newFixture(t)
	o := newTestOrchestrator(f, &recordingQueue{}, nil)

	exec, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	ctx := storage.SetTenant(context.Background(), "tenant-1")
	if err := f.store.TransitionExecution(ctx, exec.ID, api.StatusAccepted, api.StatusRunning, nil, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}

	_, err = o.Cancel(context.Background(), f.agent, exec.ID)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeCannotCancel {
		t.Fatalf("expected cannot_cancel for running execution, got %v", err)
	}
}

func TestOrchestratorCancelHidesForeignExecutions(t *testing.T) {
	f := newFixture(t)
	o := newTestOrchestrator(f, &recordingQueue{}, nil)

	exec, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	ctx := storage.SetTenant(context.Background(), "tenant-1")
	other := &api.Agent{ID: api.NewAgentID(), TenantID: "tenant-1", Name: "other-bot", CreatedAt: time.Now()}
	if err := f.store.SaveAgent(ctx, other); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	if _, err := o.Cancel(context.Background(), other, exec.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for another agent's execution, got %v", err)
	}
}

func TestOrchestratorRetry(t *testing.T) {
	f := newFixture(t)
	q := &recordingQueue{}
	o := newTestOrchestrator(f, q, nil)

	exec, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Only failed executions may be retried.
	_, err = o.Retry(context.Background(), f.agent, exec.ID)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeCannotRetry {
		t.Fatalf("expected cannot_retry for accepted execution, got %v", err)
	}

	ctx := storage.SetTenant(context.Background(), "tenant-1")
	if err := f.store.TransitionExecution(ctx, exec.ID, api.StatusAccepted, api.StatusRunning, nil, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}
	failure := &api.ExecutionError{Message: "boom", Kind: "internal", Attempt: 3, MaxAttempts: 3, OccurredAt: time.Now()}
	if err := f.store.TransitionExecution(ctx, exec.ID, api.StatusRunning, api.StatusFailed, nil, failure); err != nil {
		t.Fatalf("transition: %v", err)
	}

	retried, err := o.Retry(context.Background(), f.agent, exec.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.ID == exec.ID {
		t.Error("retry must create a new execution record")
	}
	if retried.Status != api.StatusAccepted {
		t.Errorf("retried status = %q, want accepted", retried.Status)
	}
	if retried.Payload["title"] != "x" {
		t.Errorf("retried payload = %v, want clone of the original", retried.Payload)
	}

	// The original record is untouched.
	if got := getExecution(t, f.store, exec.ID); got.Status != api.StatusFailed {
		t.Errorf("original status = %q, want failed", got.Status)
	}
}

func TestOrchestratorListExecutionsNewestFirst(t *testing.T) {
	f := newFixture(t)
	o := newTestOrchestrator(f, &recordingQueue{}, nil)

	// Deterministic creation times so ordering is unambiguous.
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "a"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "b"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	execs, err := o.ListExecutions(context.Background(), f.agent, storage.ExecutionFilter{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("got %d executions, want 2", len(execs))
	}
	if execs[0].ID != second.ID || execs[1].ID != first.ID {
		t.Error("executions not ordered newest first")
	}
}

func TestOrchestratorStats(t *testing.T) {
	f := newFixture(t)
	exe := &stubExecutor{kind: api.ToolKindInternal, outcomes: []stubOutcome{
		{result: map[string]any{"ticket_id": "tick-1"}},
	}}
	o := newTestOrchestrator(f, &recordingQueue{}, exe)

	// Two successes, one terminal failure, one still pending.
	for range 2 {
		if _, err := o.ExecuteSync(context.Background(), f.agent, "create-ticket", map[string]any{"title": "ok"}); err != nil {
			t.Fatalf("ExecuteSync: %v", err)
		}
	}

	failing, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	ctx := storage.SetTenant(context.Background(), "tenant-1")
	if err := f.store.TransitionExecution(ctx, failing.ID, api.StatusAccepted, api.StatusRunning, nil, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}
	failure := &api.ExecutionError{Message: "boom", Kind: "internal", Attempt: 3, MaxAttempts: 3, OccurredAt: time.Now()}
	if err := f.store.TransitionExecution(ctx, failing.ID, api.StatusRunning, api.StatusFailed, nil, failure); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if _, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "pending"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stats, err := o.ExecutionStats(context.Background(), f.agent, nil)
	if err != nil {
		t.Fatalf("ExecutionStats: %v", err)
	}
	if stats.Total != 4 || stats.Successful != 2 || stats.Failed != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if want := 2.0 / 3.0 * 100; stats.SuccessRate < want-0.01 || stats.SuccessRate > want+0.01 {
		t.Errorf("success rate = %f, want %f", stats.SuccessRate, want)
	}
	if len(stats.TopTools) != 1 || stats.TopTools[0].Slug != "create-ticket" || stats.TopTools[0].Count != 4 {
		t.Errorf("top tools = %v", stats.TopTools)
	}
}

func TestOrchestratorStatsNoCompletedRuns(t *testing.T) {
	f := newFixture(t)
	o := newTestOrchestrator(f, &recordingQueue{}, nil)

	if _, err := o.Execute(context.Background(), f.agent, "create-ticket", map[string]any{"title": "x"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stats, err := o.ExecutionStats(context.Background(), f.agent, nil)
	if err != nil {
		t.Fatalf("ExecutionStats: %v", err)
	}
	if stats.SuccessRate != 0 {
		t.Errorf("success rate = %f, want 0 with no completed runs", stats.SuccessRate)
	}
}

func TestTopTools(t *testing.T) {
	counts := map[string]int{
		"a": 3, "b": 7, "c": 7, "d": 1, "e": 5, "f": 4, "g": 2,
	}
	got := topTools(counts, 5)
	want := []ToolUsage{{"b", 7}, {"c", 7}, {"e", 5}, {"f", 4}, {"a", 3}}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topTools[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

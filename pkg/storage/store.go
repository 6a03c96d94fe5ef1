package storage

import (
	"context"
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
)

// ExecutionFilter narrows ListExecutions results. Zero values mean
// "no constraint". PageSize defaults to DefaultPageSize when zero.
type ExecutionFilter struct {
	Status   api.ExecutionStatus
	ToolSlug string
	From     time.Time
	To       time.Time
	PageSize int
}

// DefaultPageSize bounds execution listings when no page size is given.
const DefaultPageSize = 50

// ExecutionStats aggregates an agent's execution history. ToolCounts
// maps tool slug to the number of executions referencing it.
type ExecutionStats struct {
	Total      int
	Successful int
	Failed     int
	Pending    int
	ToolCounts map[string]int
}

// Store is the persistence contract of the toolgate core. All
// operations are tenant-scoped via the context (see SetTenant): a
// record belonging to another tenant behaves as if it did not exist.
type Store interface {
	// SaveTool persists a new tool. Returns ErrConflict when the ID or
	// the tenant-scoped slug is already taken.
	SaveTool(ctx context.Context, tool *api.Tool) error

	// GetTool retrieves a tool by ID.
	GetTool(ctx context.Context, id string) (*api.Tool, error)

	// UpdateToolLastRun records execution bookkeeping on the tool:
	// last_executed_at on success, last_error on a final failed
	// attempt. Exactly one of executedAt/lastErr is set per call; a
	// successful run clears any previous last_error.
	UpdateToolLastRun(ctx context.Context, toolID string, executedAt *time.Time, lastErr *api.ExecutionError) error

	// SaveAgent persists a new agent.
	SaveAgent(ctx context.Context, agent *api.Agent) error

	// GetAgent retrieves an agent by ID.
	GetAgent(ctx context.Context, id string) (*api.Agent, error)

	// LinkTool links a tool to an agent. Linking the same pair twice
	// is a no-op. The link table does not enforce tenant boundaries;
	// the catalog defends against cross-tenant links on read.
	LinkTool(ctx context.Context, agentID, toolID string) error

	// UnlinkTool removes an agent↔tool link.
	UnlinkTool(ctx context.Context, agentID, toolID string) error

	// Linked reports whether an explicit agent↔tool link exists.
	Linked(ctx context.Context, agentID, toolID string) (bool, error)

	// ListAgentTools returns all tools linked to the agent, in slug
	// order, without enablement or tenant filtering; callers filter.
	ListAgentTools(ctx context.Context, agentID string) ([]*api.Tool, error)

	// SaveExecution persists a new execution record.
	SaveExecution(ctx context.Context, exec *api.Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, id string) (*api.Execution, error)

	// TransitionExecution moves an execution from one status to
	// another atomically, writing result/error along with the new
	// status. Returns ErrStaleStatus when the execution is not in the
	// expected "from" status, which keeps observed transitions
	// monotonic under duplicate delivery.
	TransitionExecution(ctx context.Context, id string, from, to api.ExecutionStatus, result map[string]any, execErr *api.ExecutionError) error

	// ListExecutions returns an agent's executions, newest first,
	// narrowed by the filter.
	ListExecutions(ctx context.Context, agentID string, filter ExecutionFilter) ([]*api.Execution, error)

	// ExecutionStats aggregates an agent's executions, optionally
	// limited to those created after since.
	ExecutionStats(ctx context.Context, agentID string, since *time.Time) (*ExecutionStats, error)
}

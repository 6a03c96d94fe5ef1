// Package memory provides an in-memory storage.Store implementation
// for testing and lightweight deployments. Records are lost when the
// process restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/storage"
)

// Store is an in-memory storage.Store.
type Store struct {
	mu         sync.RWMutex
	tools      map[string]*api.Tool
	agents     map[string]*api.Agent
	executions map[string]*api.Execution
	links      map[string]map[string]bool // agentID -> toolID set
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tools:      make(map[string]*api.Tool),
		agents:     make(map[string]*api.Agent),
		executions: make(map[string]*api.Execution),
		links:      make(map[string]map[string]bool),
	}
}

// visible reports whether a record owned by ownerTenant is visible in
// the given context. An empty context tenant sees everything
// (single-tenant mode).
func visible(ctx context.Context, ownerTenant string) bool {
	tenantID := storage.GetTenant(ctx)
	return tenantID == "" || tenantID == ownerTenant
}

// SaveTool persists a new tool.
func (s *Store) SaveTool(ctx context.Context, tool *api.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[tool.ID]; exists {
		return storage.ErrConflict
	}
	for _, existing := range s.tools {
		if existing.TenantID == tool.TenantID && existing.Slug == tool.Slug {
			return storage.ErrConflict
		}
	}

	cp := *tool
	s.tools[tool.ID] = &cp
	return nil
}

// GetTool retrieves a tool by ID, scoped by tenant.
func (s *Store) GetTool(ctx context.Context, id string) (*api.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tools[id]
	if !ok || !visible(ctx, t.TenantID) {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// UpdateToolLastRun records execution bookkeeping on the tool.
func (s *Store) UpdateToolLastRun(ctx context.Context, toolID string, executedAt *time.Time, lastErr *api.ExecutionError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tools[toolID]
	if !ok || !visible(ctx, t.TenantID) {
		return storage.ErrNotFound
	}
	if executedAt != nil {
		at := *executedAt
		t.LastExecutedAt = &at
		t.LastError = nil
	}
	if lastErr != nil {
		cp := *lastErr
		t.LastError = &cp
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveAgent persists a new agent.
func (s *Store) SaveAgent(ctx context.Context, agent *api.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[agent.ID]; exists {
		return storage.ErrConflict
	}
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

// GetAgent retrieves an agent by ID, scoped by tenant.
func (s *Store) GetAgent(ctx context.Context, id string) (*api.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok || !visible(ctx, a.TenantID) {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// LinkTool links a tool to an agent. The link table deliberately does
// not validate tenants; the catalog defends on read.
func (s *Store) LinkTool(ctx context.Context, agentID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.links[agentID] == nil {
		s.links[agentID] = make(map[string]bool)
	}
	s.links[agentID][toolID] = true
	return nil
}

// UnlinkTool removes an agent↔tool link.
func (s *Store) UnlinkTool(ctx context.Context, agentID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links[agentID], toolID)
	return nil
}

// Linked reports whether an explicit agent↔tool link exists.
func (s *Store) Linked(ctx context.Context, agentID, toolID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.links[agentID][toolID], nil
}

// ListAgentTools returns all tools linked to the agent in slug order.
func (s *Store) ListAgentTools(ctx context.Context, agentID string) ([]*api.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.Tool
	for toolID := range s.links[agentID] {
		if t, ok := s.tools[toolID]; ok {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// SaveExecution persists a new execution record.
func (s *Store) SaveExecution(ctx context.Context, exec *api.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return storage.ErrConflict
	}
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}

// GetExecution retrieves an execution by ID, scoped by tenant.
func (s *Store) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[id]
	if !ok || !visible(ctx, e.TenantID) {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// TransitionExecution atomically moves an execution between statuses.
func (s *Store) TransitionExecution(ctx context.Context, id string, from, to api.ExecutionStatus, result map[string]any, execErr *api.ExecutionError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok || !visible(ctx, e.TenantID) {
		return storage.ErrNotFound
	}
	if e.Status != from {
		return storage.ErrStaleStatus
	}
	e.Status = to
	e.Result = result
	if execErr != nil {
		cp := *execErr
		e.Error = &cp
	} else {
		e.Error = nil
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// ListExecutions returns an agent's executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, agentID string, filter storage.ExecutionFilter) ([]*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.Execution
	for _, e := range s.executions {
		if e.AgentID != agentID || !visible(ctx, e.TenantID) {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.ToolSlug != "" && e.ToolSlug != filter.ToolSlug {
			continue
		}
		if !filter.From.IsZero() && e.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.CreatedAt.After(filter.To) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := filter.PageSize
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExecutionStats aggregates an agent's executions.
func (s *Store) ExecutionStats(ctx context.Context, agentID string, since *time.Time) (*storage.ExecutionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.ExecutionStats{ToolCounts: make(map[string]int)}
	for _, e := range s.executions {
		if e.AgentID != agentID || !visible(ctx, e.TenantID) {
			continue
		}
		if since != nil && e.CreatedAt.Before(*since) {
			continue
		}
		stats.Total++
		stats.ToolCounts[e.ToolSlug]++
		switch e.Status {
		case api.StatusSuccess:
			stats.Successful++
		case api.StatusFailed:
			stats.Failed++
		case api.StatusAccepted, api.StatusRunning:
			stats.Pending++
		}
	}
	return stats, nil
}

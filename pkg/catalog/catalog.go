// Package catalog answers which tools an agent may invoke. Every
// operation is scoped to the agent's tenant: a tool belonging to
// another tenant is never returned or acted on, even when the
// agent↔tool link table contains a cross-tenant row.
package catalog

import (
	"context"
	"log/slog"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/storage"
)

// Catalog resolves agent tool assignments against the store.
type Catalog struct {
	store storage.Store
}

// New creates a catalog over the given store.
func New(store storage.Store) *Catalog {
	return &Catalog{store: store}
}

// ListAvailable returns the tools linked to the agent, filtered to
// enabled tools of the agent's own tenant.
func (c *Catalog) ListAvailable(ctx context.Context, agent *api.Agent) ([]*api.Tool, error) {
	linked, err := c.store.ListAgentTools(ctx, agent.ID)
	if err != nil {
		return nil, err
	}

	var out []*api.Tool
	for _, tool := range linked {
		if tool.TenantID != agent.TenantID {
			// A cross-tenant link is a data-integrity violation the
			// catalog defends against rather than surfaces.
			slog.Warn("ignoring cross-tenant tool link",
				"agent_id", agent.ID,
				"tool_id", tool.ID,
				"agent_tenant", agent.TenantID,
				"tool_tenant", tool.TenantID,
			)
			continue
		}
		if !tool.Enabled {
			continue
		}
		out = append(out, tool)
	}
	return out, nil
}

// Find returns the agent's enabled tool with the given slug, or nil
// (not an error) when no such tool is available to the agent.
func (c *Catalog) Find(ctx context.Context, agent *api.Agent, slug string) (*api.Tool, error) {
	available, err := c.ListAvailable(ctx, agent)
	if err != nil {
		return nil, err
	}
	for _, tool := range available {
		if tool.Slug == slug {
			return tool, nil
		}
	}
	return nil, nil
}

// CanAccess reports whether the agent may execute the tool: same
// tenant, tool enabled, and an explicit agent↔tool link. It is checked
// independently of Find since callers may hold differently-sourced
// tool references.
func (c *Catalog) CanAccess(ctx context.Context, agent *api.Agent, tool *api.Tool) (bool, error) {
	if tool.TenantID != agent.TenantID || !tool.Enabled {
		return false, nil
	}
	return c.store.Linked(ctx, agent.ID, tool.ID)
}

// ListByCategory returns the agent's available tools in the given
// category.
func (c *Catalog) ListByCategory(ctx context.Context, agent *api.Agent, category string) ([]*api.Tool, error) {
	available, err := c.ListAvailable(ctx, agent)
	if err != nil {
		return nil, err
	}
	var out []*api.Tool
	for _, tool := range available {
		if tool.Category == category {
			out = append(out, tool)
		}
	}
	return out, nil
}

// Stats summarizes an agent's available tools.
type Stats struct {
	Total         int      `json:"total"`
	InternalCount int      `json:"internal_count"`
	ExternalCount int      `json:"external_count"`
	Categories    []string `json:"categories"`
}

// Stats aggregates the agent's available tools by kind and category.
func (c *Catalog) Stats(ctx context.Context, agent *api.Agent) (*Stats, error) {
	available, err := c.ListAvailable(ctx, agent)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Total: len(available)}
	seen := make(map[string]bool)
	for _, tool := range available {
		switch tool.Kind {
		case api.ToolKindInternal:
			stats.InternalCount++
		case api.ToolKindExternal:
			stats.ExternalCount++
		}
		if tool.Category != "" && !seen[tool.Category] {
			seen[tool.Category] = true
			stats.Categories = append(stats.Categories, tool.Category)
		}
	}
	return stats, nil
}

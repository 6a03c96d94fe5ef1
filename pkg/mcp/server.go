package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/catalog"
	"github.com/chatdesk/toolgate/pkg/execution"
	"github.com/chatdesk/toolgate/pkg/storage"
)

// Agent identity headers expected on MCP requests. Authentication is
// a collaborator in front of this service; by the time a request lands
// here the headers are trusted.
const (
	TenantHeader = "X-Tenant-ID"
	AgentHeader  = "X-Agent-ID"
)

// Server exposes per-agent tool catalogs over the MCP streamable HTTP
// transport. tools/list reflects the agent's catalog; tools/call runs
// the execution pipeline synchronously and returns the terminal result.
type Server struct {
	store        storage.Store
	catalog      *catalog.Catalog
	orchestrator *execution.Orchestrator
	info         ServerInfo
	log          *slog.Logger
}

// NewServer creates an MCP server surface over the catalog and
// orchestrator.
func NewServer(store storage.Store, cat *catalog.Catalog, orch *execution.Orchestrator, info ServerInfo) *Server {
	return &Server{
		store:        store,
		catalog:      cat,
		orchestrator: orch,
		info:         info,
		log:          slog.Default(),
	}
}

// Handler returns the streamable HTTP handler. Each request gets an MCP
// server scoped to the requesting agent's catalog.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.serverFor(r)
	}, nil)
}

// Manifest builds the MCP manifest document for an agent, including
// catalog stats.
func (s *Server) Manifest(ctx context.Context, agent *api.Agent) (*Manifest, error) {
	ctx = storage.SetTenant(ctx, agent.TenantID)
	tools, err := s.catalog.ListAvailable(ctx, agent)
	if err != nil {
		return nil, err
	}
	stats, err := s.catalog.Stats(ctx, agent)
	if err != nil {
		return nil, err
	}
	manifest := BuildManifest(s.info, tools, stats)
	return &manifest, nil
}

// serverFor builds the per-request MCP server. An unresolvable agent
// yields a server with an empty tool set rather than a transport error.
func (s *Server) serverFor(r *http.Request) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: s.info.Name, Version: s.info.Version}, nil)

	ctx := storage.SetTenant(r.Context(), r.Header.Get(TenantHeader))
	agent, err := s.store.GetAgent(ctx, r.Header.Get(AgentHeader))
	if err != nil {
		s.log.Warn("resolving MCP agent",
			"agent_id", r.Header.Get(AgentHeader),
			"error", err,
		)
		return srv
	}

	tools, err := s.catalog.ListAvailable(ctx, agent)
	if err != nil {
		s.log.Warn("listing MCP tools", "agent_id", agent.ID, "error", err)
		return srv
	}

	for _, tool := range tools {
		srv.AddTool(&mcp.Tool{
			Name:        tool.Slug,
			Description: tool.Name,
			InputSchema: catalog.JSONSchema(tool.Schema.Inputs),
		}, s.callHandler(agent, tool.Slug))
	}
	return srv
}

// callHandler adapts tools/call to a synchronous execution run.
func (s *Server) callHandler(agent *api.Agent, slug string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var payload map[string]any
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &payload); err != nil {
				return errorResult(fmt.Sprintf("decoding arguments: %v", err)), nil
			}
		}

		exec, err := s.orchestrator.ExecuteSync(ctx, agent, slug, payload)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		if exec.Status != api.StatusSuccess {
			msg := fmt.Sprintf("execution %s ended in %s", exec.ID, exec.Status)
			if exec.Error != nil {
				msg = fmt.Sprintf("%s: %s", msg, exec.Error.Message)
			}
			return errorResult(msg), nil
		}

		body, err := json.Marshal(exec.Result)
		if err != nil {
			return nil, fmt.Errorf("encoding result of %s: %w", exec.ID, err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
		}, nil
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

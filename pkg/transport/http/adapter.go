package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/catalog"
	"github.com/chatdesk/toolgate/pkg/execution"
	"github.com/chatdesk/toolgate/pkg/mcp"
	"github.com/chatdesk/toolgate/pkg/observability"
	"github.com/chatdesk/toolgate/pkg/storage"
	"github.com/chatdesk/toolgate/pkg/transport"
)

// Headers identifying the calling tenant and agent. Authentication is
// handled upstream; the adapter trusts these headers.
const (
	TenantHeader = "X-Tenant-ID"
	AgentHeader  = "X-Agent-ID"
)

// Adapter serves the toolgate API over HTTP. It resolves the calling
// agent from headers, routes requests to the catalog and orchestrator,
// and serializes responses as JSON.
type Adapter struct {
	store        storage.Store
	catalog      *catalog.Catalog
	orchestrator *execution.Orchestrator
	mcp          *mcp.Server // nil disables the MCP surface
	mux          *http.ServeMux
	config       Config
	log          *slog.Logger
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
	MetricsPath string // empty disables the metrics endpoint
	MCPPath     string // empty disables the MCP endpoint
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 1 << 20, // 1 MB
		MetricsPath: "/metrics",
		MCPPath:     "/mcp",
	}
}

// NewAdapter creates an HTTP adapter over the given core components.
// The MCP server is optional; when nil, the MCP endpoint and manifest
// are not served.
func NewAdapter(store storage.Store, cat *catalog.Catalog, orch *execution.Orchestrator, mcpSrv *mcp.Server, cfg Config) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		store:        store,
		catalog:      cat,
		orchestrator: orch,
		mcp:          mcpSrv,
		mux:          http.NewServeMux(),
		config:       cfg,
		log:          slog.Default(),
	}

	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /v1/tools", a.handleListTools)
	a.mux.HandleFunc("GET /v1/tools/{slug}", a.handleGetTool)
	a.mux.HandleFunc("POST /v1/tools/{slug}/execute", a.handleExecute)
	a.mux.HandleFunc("POST /v1/tools/{slug}/execute_sync", a.handleExecuteSync)
	a.mux.HandleFunc("GET /v1/executions", a.handleListExecutions)
	a.mux.HandleFunc("GET /v1/executions/{id}", a.handleGetExecution)
	a.mux.HandleFunc("POST /v1/executions/{id}/cancel", a.handleCancel)
	a.mux.HandleFunc("POST /v1/executions/{id}/retry", a.handleRetry)
	a.mux.HandleFunc("GET /v1/stats", a.handleStats)
	a.mux.HandleFunc("GET /v1/catalog/stats", a.handleCatalogStats)

	if cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}
	if mcpSrv != nil {
		a.mux.HandleFunc("GET /v1/mcp/manifest", a.handleManifest)
		if cfg.MCPPath != "" {
			a.mux.Handle(cfg.MCPPath, mcpSrv.Handler())
		}
	}

	return a
}

// Handler returns the http.Handler for this adapter, wrapped with
// request ID, recovery, metrics, and logging middleware.
func (a *Adapter) Handler() http.Handler {
	chain := transport.Chain(
		transport.RequestID(),
		transport.Recovery(a.log),
		transport.Logging(a.log),
		observability.MetricsMiddleware,
	)
	return chain(a.mux)
}

// agent resolves the calling agent from the tenant and agent headers
// and returns the request rescoped to the tenant. A missing header or
// unknown agent writes the error response and returns ok=false.
func (a *Adapter) agent(w http.ResponseWriter, r *http.Request) (*api.Agent, *http.Request, bool) {
	tenantID := r.Header.Get(TenantHeader)
	agentID := r.Header.Get(AgentHeader)
	if tenantID == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError(TenantHeader, "missing tenant header"))
		return nil, r, false
	}
	if agentID == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError(AgentHeader, "missing agent header"))
		return nil, r, false
	}

	r = r.WithContext(storage.SetTenant(r.Context(), tenantID))
	agent, err := a.store.GetAgent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewAgentNotFoundError(agentID))
		} else {
			transport.WriteError(w, err)
		}
		return nil, r, false
	}
	return agent, r, true
}

func (a *Adapter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListTools handles GET /v1/tools. An optional category query
// parameter narrows the listing.
func (a *Adapter) handleListTools(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}

	var (
		tools []*api.Tool
		err   error
	)
	if category := r.URL.Query().Get("category"); category != "" {
		tools, err = a.catalog.ListByCategory(r.Context(), agent, category)
	} else {
		tools, err = a.catalog.ListAvailable(r.Context(), agent)
	}
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if tools == nil {
		tools = []*api.Tool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

// handleGetTool handles GET /v1/tools/{slug}.
func (a *Adapter) handleGetTool(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}

	slug := r.PathValue("slug")
	tool, err := a.catalog.Find(r.Context(), agent, slug)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if tool == nil {
		transport.WriteAPIError(w, api.NewToolNotFoundError(slug))
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

// executeRequest is the body of POST /v1/tools/{slug}/execute.
type executeRequest struct {
	Payload map[string]any `json:"payload"`
}

// handleExecute handles POST /v1/tools/{slug}/execute. The execution
// is accepted and queued; the accepted record is returned with 202.
func (a *Adapter) handleExecute(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}
	payload, ok := a.decodePayload(w, r)
	if !ok {
		return
	}

	exec, err := a.orchestrator.Execute(r.Context(), agent, r.PathValue("slug"), payload)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

// handleExecuteSync handles POST /v1/tools/{slug}/execute_sync. The
// execution runs inline and the terminal record is returned.
func (a *Adapter) handleExecuteSync(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}
	payload, ok := a.decodePayload(w, r)
	if !ok {
		return
	}

	exec, err := a.orchestrator.ExecuteSync(r.Context(), agent, r.PathValue("slug"), payload)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// decodePayload reads and validates the execute request body. An empty
// body is accepted as an empty payload.
func (a *Adapter) decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return nil, false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return nil, false
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	return req.Payload, true
}

// handleListExecutions handles GET /v1/executions with optional
// status, tool, from, to, and limit query parameters.
func (a *Adapter) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}

	filter, apiErr := parseExecutionFilter(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	execs, err := a.orchestrator.ListExecutions(r.Context(), agent, filter)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if execs == nil {
		execs = []*api.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

// handleGetExecution handles GET /v1/executions/{id}.
func (a *Adapter) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}

	exec, err := a.orchestrator.GetExecution(r.Context(), agent, r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleCancel handles POST /v1/executions/{id}/cancel.
func (a *Adapter) handleCancel(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}

	exec, err := a.orchestrator.Cancel(r.Context(), agent, r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleRetry handles POST /v1/executions/{id}/retry. A successful
// retry creates a fresh execution record.
func (a *Adapter) handleRetry(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}

	exec, err := a.orchestrator.Retry(r.Context(), agent, r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

// handleStats handles GET /v1/stats with an optional RFC 3339 since
// query parameter.
func (a *Adapter) handleStats(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			transport.WriteAPIError(w, api.NewInvalidRequestError("since", "since must be an RFC 3339 timestamp"))
			return
		}
		since = &t
	}

	stats, err := a.orchestrator.ExecutionStats(r.Context(), agent, since)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleCatalogStats handles GET /v1/catalog/stats.
func (a *Adapter) handleCatalogStats(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}

	stats, err := a.catalog.Stats(r.Context(), agent)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleManifest handles GET /v1/mcp/manifest.
func (a *Adapter) handleManifest(w http.ResponseWriter, r *http.Request) {
	agent, r, ok := a.agent(w, r)
	if !ok {
		return
	}

	manifest, err := a.mcp.Manifest(r.Context(), agent)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

// parseExecutionFilter extracts listing filters from the query string.
func parseExecutionFilter(r *http.Request) (storage.ExecutionFilter, *api.APIError) {
	q := r.URL.Query()
	filter := storage.ExecutionFilter{
		ToolSlug: q.Get("tool"),
	}

	if raw := q.Get("status"); raw != "" {
		status := api.ExecutionStatus(raw)
		switch status {
		case api.StatusAccepted, api.StatusRunning, api.StatusSuccess, api.StatusFailed, api.StatusCancelled:
			filter.Status = status
		default:
			return filter, api.NewInvalidRequestError("status", fmt.Sprintf("unknown status %q", raw))
		}
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, api.NewInvalidRequestError("from", "from must be an RFC 3339 timestamp")
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, api.NewInvalidRequestError("to", "to must be an RFC 3339 timestamp")
		}
		filter.To = t
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		filter.PageSize = limit
	}

	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package mcp

import (
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/catalog"
)

const (
	// Protocol identifies the manifest family.
	Protocol = "mcp"

	// ProtocolVersion is the MCP revision the manifest conforms to.
	ProtocolVersion = "2025-06-18"
)

// ServerInfo identifies the manifest's issuing server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises what the toolgate surface supports.
type Capabilities struct {
	Tools            bool `json:"tools"`
	AsyncExecution   bool `json:"async_execution"`
	SchemaValidation bool `json:"schema_validation"`
	MultiTenant      bool `json:"multi_tenant"`
}

// ToolMetadata carries catalog bookkeeping alongside the callable
// schema.
type ToolMetadata struct {
	Category       string       `json:"category,omitempty"`
	Kind           api.ToolKind `json:"kind"`
	Tenant         string       `json:"tenant"`
	LastExecutedAt *time.Time   `json:"last_executed_at,omitempty"`
}

// ManifestTool is one tool entry in MCP manifest form.
type ManifestTool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema"`
	Metadata     ToolMetadata   `json:"metadata"`
}

// Manifest is the full per-agent MCP manifest document.
type Manifest struct {
	Protocol     string         `json:"protocol"`
	Version      string         `json:"version"`
	Server       ServerInfo     `json:"server"`
	Capabilities Capabilities   `json:"capabilities"`
	Tools        []ManifestTool `json:"tools"`
	Stats        *catalog.Stats `json:"stats,omitempty"`
}

// MapTool converts one tool into its manifest entry. Empty input or
// output field lists map to an empty object schema rather than null.
func MapTool(tool *api.Tool) ManifestTool {
	return ManifestTool{
		Name:         tool.Slug,
		Description:  tool.Name,
		InputSchema:  catalog.JSONSchema(tool.Schema.Inputs),
		OutputSchema: catalog.JSONSchema(tool.Schema.Outputs),
		Metadata: ToolMetadata{
			Category:       tool.Category,
			Kind:           tool.Kind,
			Tenant:         tool.TenantID,
			LastExecutedAt: tool.LastExecutedAt,
		},
	}
}

// BuildManifest assembles the manifest document for a tool list. stats
// may be nil when the caller has no aggregate view to attach.
func BuildManifest(server ServerInfo, tools []*api.Tool, stats *catalog.Stats) Manifest {
	entries := make([]ManifestTool, 0, len(tools))
	for _, tool := range tools {
		entries = append(entries, MapTool(tool))
	}
	return Manifest{
		Protocol: Protocol,
		Version:  ProtocolVersion,
		Server:   server,
		Capabilities: Capabilities{
			Tools:            true,
			AsyncExecution:   true,
			SchemaValidation: true,
			MultiTenant:      true,
		},
		Tools: entries,
		Stats: stats,
	}
}

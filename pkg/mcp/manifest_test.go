package mcp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/catalog"
)

func sampleTool() *api.Tool {
	executed := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	return &api.Tool{
		ID:       "tool_abc",
		TenantID: "tenant-1",
		Name:     "Create Ticket",
		Slug:     "create-ticket",
		Category: "helpdesk",
		Kind:     api.ToolKindInternal,
		Schema: api.ToolSchema{
			Inputs: []api.Field{
				{Name: "title", Type: api.FieldString, Required: true, Description: "Ticket title"},
				{Name: "priority", Type: api.FieldString},
			},
			Outputs: []api.Field{
				{Name: "ticket_id", Type: api.FieldString, Required: true},
			},
		},
		Enabled:        true,
		LastExecutedAt: &executed,
	}
}

func TestMapTool(t *testing.T) {
	entry := MapTool(sampleTool())

	if entry.Name != "create-ticket" {
		t.Errorf("name = %q, want the slug", entry.Name)
	}
	if entry.Description != "Create Ticket" {
		t.Errorf("description = %q, want the display name", entry.Description)
	}
	if entry.Metadata.Kind != api.ToolKindInternal || entry.Metadata.Tenant != "tenant-1" {
		t.Errorf("metadata = %+v", entry.Metadata)
	}
	if entry.Metadata.LastExecutedAt == nil {
		t.Error("last_executed_at dropped")
	}

	props, ok := entry.InputSchema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("input schema properties missing: %v", entry.InputSchema)
	}
	title, ok := props["title"].(map[string]any)
	if !ok || title["type"] != "string" || title["description"] != "Ticket title" {
		t.Errorf("title property = %v", props["title"])
	}
	required, ok := entry.InputSchema["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "title" {
		t.Errorf("required = %v", entry.InputSchema["required"])
	}
}

func TestMapToolEmptySchemas(t *testing.T) {
	tool := sampleTool()
	tool.Schema = api.ToolSchema{}

	entry := MapTool(tool)
	for _, schema := range []map[string]any{entry.InputSchema, entry.OutputSchema} {
		if schema["type"] != "object" {
			t.Errorf("empty field list must yield an object schema, got %v", schema)
		}
		if _, ok := schema["required"]; ok {
			t.Errorf("empty schema carries required: %v", schema)
		}
	}
}

func TestBuildManifest(t *testing.T) {
	stats := &catalog.Stats{Total: 1, InternalCount: 1}
	manifest := BuildManifest(ServerInfo{Name: "toolgate", Version: "1.0.0"}, []*api.Tool{sampleTool()}, stats)

	if manifest.Protocol != Protocol || manifest.Version != ProtocolVersion {
		t.Errorf("protocol/version = %q/%q", manifest.Protocol, manifest.Version)
	}
	caps := manifest.Capabilities
	if !caps.Tools || !caps.AsyncExecution || !caps.SchemaValidation || !caps.MultiTenant {
		t.Errorf("capabilities = %+v", caps)
	}
	if len(manifest.Tools) != 1 || manifest.Tools[0].Name != "create-ticket" {
		t.Errorf("tools = %v", manifest.Tools)
	}
	if manifest.Stats.Total != 1 {
		t.Errorf("stats = %+v", manifest.Stats)
	}
}

func TestBuildManifestNoTools(t *testing.T) {
	manifest := BuildManifest(ServerInfo{Name: "toolgate", Version: "1.0.0"}, nil, nil)

	// tools must serialize as [], not null.
	body, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tools, ok := decoded["tools"].([]any)
	if !ok {
		t.Fatalf("tools serialized as %T, want array", decoded["tools"])
	}
	if len(tools) != 0 {
		t.Errorf("tools = %v", tools)
	}
	if _, present := decoded["stats"]; present {
		t.Error("nil stats should be omitted")
	}
}

func TestManifestJSONFieldNames(t *testing.T) {
	body, err := json.Marshal(MapTool(sampleTool()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"name", "description", "inputSchema", "outputSchema", "metadata"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("manifest entry missing %q: %v", key, decoded)
		}
	}
}

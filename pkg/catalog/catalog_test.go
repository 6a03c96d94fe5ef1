package catalog

import (
	"context"
	"testing"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/storage/memory"
)

func setup(t *testing.T) (*Catalog, *memory.Store, *api.Agent) {
	t.Helper()
	store := memory.New()
	agent := &api.Agent{ID: api.NewAgentID(), TenantID: "tenant-a", Name: "support-bot"}
	if err := store.SaveAgent(context.Background(), agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}
	return New(store), store, agent
}

func addTool(t *testing.T, store *memory.Store, agent *api.Agent, tool *api.Tool, link bool) {
	t.Helper()
	ctx := context.Background()
	if err := store.SaveTool(ctx, tool); err != nil {
		t.Fatalf("SaveTool(%s): %v", tool.Slug, err)
	}
	if link {
		if err := store.LinkTool(ctx, agent.ID, tool.ID); err != nil {
			t.Fatalf("LinkTool(%s): %v", tool.Slug, err)
		}
	}
}

func internalTool(tenant, slug, category string) *api.Tool {
	return &api.Tool{
		ID:       api.NewToolID(),
		TenantID: tenant,
		Name:     "Display " + slug,
		Slug:     slug,
		Category: category,
		Kind:     api.ToolKindInternal,
		Config:   api.ToolConfig{Action: "create_ticket"},
		Enabled:  true,
	}
}

func TestListAvailableFilters(t *testing.T) {
	c, store, agent := setup(t)
	ctx := context.Background()

	enabled := internalTool("tenant-a", "create-ticket", "tickets")
	disabled := internalTool("tenant-a", "send-message", "messaging")
	disabled.Enabled = false
	crossTenant := internalTool("tenant-b", "steal-data", "tickets")
	unlinked := internalTool("tenant-a", "close-conversation", "tickets")

	addTool(t, store, agent, enabled, true)
	addTool(t, store, agent, disabled, true)
	addTool(t, store, agent, crossTenant, true) // link table allows it; catalog must not
	addTool(t, store, agent, unlinked, false)

	tools, err := c.ListAvailable(ctx, agent)
	if err != nil {
		t.Fatalf("ListAvailable: %v", err)
	}
	if len(tools) != 1 || tools[0].Slug != "create-ticket" {
		t.Errorf("expected only the enabled same-tenant linked tool, got %+v", tools)
	}
}

func TestFind(t *testing.T) {
	c, store, agent := setup(t)
	ctx := context.Background()

	tool := internalTool("tenant-a", "create-ticket", "tickets")
	addTool(t, store, agent, tool, true)

	found, err := c.Find(ctx, agent, "create-ticket")
	if err != nil || found == nil {
		t.Fatalf("Find = %v, %v", found, err)
	}
	if found.ID != tool.ID {
		t.Errorf("found wrong tool: %+v", found)
	}

	// Absent is nil, not an error.
	missing, err := c.Find(ctx, agent, "no-such-tool")
	if err != nil || missing != nil {
		t.Errorf("Find(absent) = %v, %v; want nil, nil", missing, err)
	}
}

func TestCanAccess(t *testing.T) {
	c, store, agent := setup(t)
	ctx := context.Background()

	linked := internalTool("tenant-a", "create-ticket", "tickets")
	addTool(t, store, agent, linked, true)
	unlinked := internalTool("tenant-a", "send-message", "messaging")
	addTool(t, store, agent, unlinked, false)
	crossTenant := internalTool("tenant-b", "other-tool", "tickets")
	addTool(t, store, agent, crossTenant, true)
	disabled := internalTool("tenant-a", "close-conversation", "tickets")
	disabled.Enabled = false
	addTool(t, store, agent, disabled, true)

	tests := []struct {
		name string
		tool *api.Tool
		want bool
	}{
		{"linked same-tenant enabled", linked, true},
		{"unlinked", unlinked, false},
		{"cross-tenant despite link", crossTenant, false},
		{"disabled", disabled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.CanAccess(ctx, agent, tt.tool)
			if err != nil {
				t.Fatalf("CanAccess: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanAccess = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListByCategory(t *testing.T) {
	c, store, agent := setup(t)

	addTool(t, store, agent, internalTool("tenant-a", "create-ticket", "tickets"), true)
	addTool(t, store, agent, internalTool("tenant-a", "close-ticket", "tickets"), true)
	addTool(t, store, agent, internalTool("tenant-a", "send-message", "messaging"), true)

	tools, err := c.ListByCategory(context.Background(), agent, "tickets")
	if err != nil {
		t.Fatalf("ListByCategory: %v", err)
	}
	if len(tools) != 2 {
		t.Errorf("expected 2 ticket tools, got %d", len(tools))
	}
}

func TestStats(t *testing.T) {
	c, store, agent := setup(t)

	addTool(t, store, agent, internalTool("tenant-a", "create-ticket", "tickets"), true)
	addTool(t, store, agent, internalTool("tenant-a", "send-message", "messaging"), true)
	ext := &api.Tool{
		ID:       api.NewToolID(),
		TenantID: "tenant-a",
		Name:     "CRM lookup",
		Slug:     "crm-lookup",
		Category: "tickets",
		Kind:     api.ToolKindExternal,
		Config:   api.ToolConfig{URL: "https://crm.example.com/lookup", Method: "POST"},
		Enabled:  true,
	}
	addTool(t, store, agent, ext, true)

	stats, err := c.Stats(context.Background(), agent)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.InternalCount != 2 || stats.ExternalCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(stats.Categories) != 2 {
		t.Errorf("categories must be unique: %+v", stats.Categories)
	}
}

func TestNormalizeForAI(t *testing.T) {
	tool := internalTool("tenant-a", "create-ticket", "tickets")
	tool.Schema = api.ToolSchema{
		Inputs: []api.Field{
			{Name: "title", Type: api.FieldString, Required: true, Description: "Ticket title"},
			{Name: "priority", Type: api.FieldString},
		},
		Outputs: []api.Field{{Name: "ticket_id", Type: api.FieldString, Required: true}},
	}

	descs := NormalizeForAI([]*api.Tool{tool})
	if len(descs) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descs))
	}
	d := descs[0]
	if d.Name != "create-ticket" || d.Description != tool.Name {
		t.Errorf("descriptor identity: %+v", d)
	}

	props, ok := d.InputSchema["properties"].(map[string]any)
	if !ok || len(props) != 2 {
		t.Fatalf("input schema properties: %+v", d.InputSchema)
	}
	title, _ := props["title"].(map[string]any)
	if title["type"] != "string" || title["description"] != "Ticket title" {
		t.Errorf("title property: %+v", title)
	}
	required, _ := d.InputSchema["required"].([]string)
	if len(required) != 1 || required[0] != "title" {
		t.Errorf("required list: %+v", required)
	}
}

func TestJSONSchemaEmptyFields(t *testing.T) {
	schema := JSONSchema(nil)
	if schema["type"] != "object" {
		t.Errorf("empty schema must still be an object schema: %+v", schema)
	}
	if _, hasRequired := schema["required"]; hasRequired {
		t.Error("empty schema must not carry a required list")
	}
	props, _ := schema["properties"].(map[string]any)
	if len(props) != 0 {
		t.Errorf("empty schema must have no properties: %+v", props)
	}
}

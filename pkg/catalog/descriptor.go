package catalog

import "github.com/chatdesk/toolgate/pkg/api"

// ToolDescriptor is the generic AI-provider view of a tool: slug as
// the callable name, display name as the description, and JSON
// Schema-shaped input/output schemas.
type ToolDescriptor struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"input_schema"`
	OutputSchema map[string]any `json:"output_schema"`
	Category     string         `json:"category,omitempty"`
	Kind         api.ToolKind   `json:"kind"`
}

// NormalizeForAI maps tools into generic AI-provider descriptors.
func NormalizeForAI(tools []*api.Tool) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		out = append(out, ToolDescriptor{
			Name:         tool.Slug,
			Description:  tool.Name,
			InputSchema:  JSONSchema(tool.Schema.Inputs),
			OutputSchema: JSONSchema(tool.Schema.Outputs),
			Category:     tool.Category,
			Kind:         tool.Kind,
		})
	}
	return out
}

// JSONSchema converts a field list into a JSON Schema-shaped object:
// {type: "object", properties: {...}, required: [...]}. An empty field
// list yields an empty object schema.
func JSONSchema(fields []api.Field) map[string]any {
	properties := make(map[string]any, len(fields))
	required := []string{}
	for _, f := range fields {
		prop := map[string]any{"type": string(f.Type)}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

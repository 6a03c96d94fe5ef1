package api

import (
	"fmt"
	"time"
)

// ToolKind classifies how a tool is executed.
type ToolKind string

const (
	// ToolKindInternal is a tool executed in-process against platform
	// services (tickets, conversations, departments).
	ToolKindInternal ToolKind = "internal"

	// ToolKindExternal is a tool executed via an outbound HTTP call
	// described by the tool's config.
	ToolKindExternal ToolKind = "external"
)

// Valid reports whether k is a known tool kind.
func (k ToolKind) Valid() bool {
	return k == ToolKindInternal || k == ToolKindExternal
}

// FieldType is the declared type of a schema field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// Valid reports whether t is one of the allowed field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldInteger, FieldBoolean, FieldArray, FieldObject:
		return true
	}
	return false
}

// Field describes one input or output field of a tool schema.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// ToolSchema holds the ordered input and output field descriptors of a
// tool. An empty Inputs list means any payload is accepted.
type ToolSchema struct {
	Inputs  []Field `json:"inputs" yaml:"inputs"`
	Outputs []Field `json:"outputs" yaml:"outputs"`
}

// Header is a single HTTP header sent by the external executor. Values
// may contain {{secret.KEY}} and {{env.VAR}} templates.
type Header struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// AuthType enumerates the supported external auth schemes.
type AuthType string

const (
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
)

// AuthConfig describes how the external executor authenticates an
// outbound request.
type AuthConfig struct {
	Type AuthType `json:"type" yaml:"type"`

	// Token is the bearer token for AuthBearer.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// Username and Password are used for AuthBasic.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// Header and Key are used for AuthAPIKey. Header defaults to
	// "X-API-Key" when empty.
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
	Key    string `json:"key,omitempty" yaml:"key,omitempty"`
}

// ToolConfig holds the kind-specific execution settings of a tool.
// Internal tools use Action plus the optional department/priority/tags
// hints; external tools use the HTTP fields. A config carrying fields
// of the wrong kind fails Tool.Validate.
type ToolConfig struct {
	// Internal fields.
	Action     string   `json:"action,omitempty" yaml:"action,omitempty"`
	Department string   `json:"department,omitempty" yaml:"department,omitempty"`
	Priority   string   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// External fields.
	URL            string         `json:"url,omitempty" yaml:"url,omitempty"`
	Method         string         `json:"method,omitempty" yaml:"method,omitempty"`
	TimeoutSeconds int            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries        int            `json:"retries,omitempty" yaml:"retries,omitempty"`
	Headers        []Header       `json:"headers,omitempty" yaml:"headers,omitempty"`
	Auth           *AuthConfig    `json:"auth,omitempty" yaml:"auth,omitempty"`
	Body           map[string]any `json:"body,omitempty" yaml:"body,omitempty"`
}

// Tool is a tenant-owned, schema-described capability an agent may
// invoke. Slug is unique per tenant.
type Tool struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	Category       string          `json:"category,omitempty"`
	Kind           ToolKind        `json:"kind"`
	Schema         ToolSchema      `json:"schema"`
	Config         ToolConfig      `json:"config"`
	Enabled        bool            `json:"enabled"`
	LastExecutedAt *time.Time      `json:"last_executed_at,omitempty"`
	LastError      *ExecutionError `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks the structural invariants of a tool: a known kind
// and a config whose shape matches that kind.
func (t *Tool) Validate() error {
	if t.TenantID == "" {
		return fmt.Errorf("tool %q: tenant_id is required", t.Slug)
	}
	if t.Slug == "" {
		return fmt.Errorf("tool %q: slug is required", t.ID)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("tool %q: unknown kind %q", t.Slug, t.Kind)
	}
	switch t.Kind {
	case ToolKindInternal:
		if t.Config.Action == "" {
			return fmt.Errorf("tool %q: internal tool requires config.action", t.Slug)
		}
		if t.Config.URL != "" || t.Config.Method != "" {
			return fmt.Errorf("tool %q: internal config must not carry url/method", t.Slug)
		}
	case ToolKindExternal:
		if t.Config.URL == "" {
			return fmt.Errorf("tool %q: external tool requires config.url", t.Slug)
		}
		if t.Config.Action != "" {
			return fmt.Errorf("tool %q: external config must not carry action", t.Slug)
		}
	}
	return nil
}

// Agent is a tenant-owned AI persona with a bounded set of linked tools.
type Agent struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionStatus is the lifecycle state of a tool execution.
type ExecutionStatus string

const (
	StatusAccepted  ExecutionStatus = "accepted"
	StatusRunning   ExecutionStatus = "running"
	StatusSuccess   ExecutionStatus = "success"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether s is a terminal state. No transition out of
// a terminal state is permitted.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving from
// s to next. Allowed edges: accepted→running, accepted→cancelled,
// running→success, running→failed.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case StatusAccepted:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusSuccess || next == StatusFailed
	}
	return false
}

// ExecutionError is the structured failure snapshot attached to a
// failed execution and, on the final attempt, to the tool itself.
type ExecutionError struct {
	Message     string    `json:"message"`
	Kind        string    `json:"kind"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Execution is one invocation attempt of a tool by an agent. Records
// are append-only: a retry creates a new execution, never mutates the
// original.
type Execution struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	ToolID    string          `json:"tool_id"`
	ToolSlug  string          `json:"tool_slug"`
	AgentID   string          `json:"agent_id"`
	Payload   map[string]any  `json:"payload"`
	Status    ExecutionStatus `json:"status"`
	Result    map[string]any  `json:"result,omitempty"`
	Error     *ExecutionError `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

package executor

import (
	"context"
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
)

// Internal action names dispatched by the internal executor.
const (
	ActionCreateTicket       = "create_ticket"
	ActionTransferDepartment = "transfer_department"
	ActionSendMessage        = "send_message"
	ActionCloseConversation  = "close_conversation"
	ActionAssignAgent        = "assign_agent"
)

// TicketParams describes a helpdesk ticket to create.
type TicketParams struct {
	Title       string
	Description string
	Priority    string
	Department  string
	Tags        []string
}

// Platform is the helpdesk surface internal tools act on. The concrete
// implementation lives outside this service; tests use fakes.
type Platform interface {
	// CreateTicket opens a ticket and returns its id.
	CreateTicket(ctx context.Context, tenantID string, params TicketParams) (string, error)

	// TransferDepartment moves a conversation to another department.
	TransferDepartment(ctx context.Context, tenantID, conversationID, departmentID string) error

	// SendMessage posts a message into a conversation and returns the
	// message id.
	SendMessage(ctx context.Context, tenantID, conversationID, message string) (string, error)

	// CloseConversation closes a conversation.
	CloseConversation(ctx context.Context, tenantID, conversationID string) error

	// AssignAgent assigns a human agent to a conversation.
	AssignAgent(ctx context.Context, tenantID, conversationID, agentID string) error
}

// actionFunc runs one internal action against the platform.
type actionFunc func(ctx context.Context, inv Invocation) (map[string]any, error)

// InternalExecutor dispatches internal tool invocations to a fixed set
// of platform actions keyed by the tool config's action name.
//
// Each action returns a structured result record (ids, new status,
// timestamp). A tool's output schema must declare every field its
// action emits: result validation rejects undeclared fields, so a
// partial schema turns successful runs into failures.
type InternalExecutor struct {
	platform Platform
	actions  map[string]actionFunc
	now      func() time.Time
}

// Ensure InternalExecutor implements Executor at compile time.
var _ Executor = (*InternalExecutor)(nil)

// NewInternal creates an internal executor over the given platform.
func NewInternal(platform Platform) *InternalExecutor {
	e := &InternalExecutor{
		platform: platform,
		now:      time.Now,
	}
	e.actions = map[string]actionFunc{
		ActionCreateTicket:       e.createTicket,
		ActionTransferDepartment: e.transferDepartment,
		ActionSendMessage:        e.sendMessage,
		ActionCloseConversation:  e.closeConversation,
		ActionAssignAgent:        e.assignAgent,
	}
	return e
}

// Kind returns api.ToolKindInternal.
func (e *InternalExecutor) Kind() api.ToolKind {
	return api.ToolKindInternal
}

// Execute routes the invocation to the configured action. An unknown
// action is a configuration defect, not a transient failure.
func (e *InternalExecutor) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	action, ok := e.actions[inv.Tool.Config.Action]
	if !ok {
		return nil, Fatal("unknown internal action %q", inv.Tool.Config.Action)
	}
	return action(ctx, inv)
}

func (e *InternalExecutor) createTicket(ctx context.Context, inv Invocation) (map[string]any, error) {
	payload := inv.Execution.Payload
	title, err := stringField(ActionCreateTicket, payload, "title")
	if err != nil {
		return nil, err
	}

	params := TicketParams{
		Title:       title,
		Description: optionalString(payload, "description", ""),
		Priority:    optionalString(payload, "priority", inv.Tool.Config.Priority),
		Department:  optionalString(payload, "department", inv.Tool.Config.Department),
		Tags:        inv.Tool.Config.Tags,
	}

	ticketID, err := e.platform.CreateTicket(ctx, inv.Execution.TenantID, params)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"ticket_id":  ticketID,
		"title":      title,
		"status":     "open",
		"priority":   params.Priority,
		"created_at": e.now().UTC().Format(time.RFC3339),
	}, nil
}

func (e *InternalExecutor) transferDepartment(ctx context.Context, inv Invocation) (map[string]any, error) {
	payload := inv.Execution.Payload
	conversationID, err := stringField(ActionTransferDepartment, payload, "conversation_id")
	if err != nil {
		return nil, err
	}
	departmentID, err := stringField(ActionTransferDepartment, payload, "department_id")
	if err != nil {
		return nil, err
	}

	if err := e.platform.TransferDepartment(ctx, inv.Execution.TenantID, conversationID, departmentID); err != nil {
		return nil, err
	}

	return map[string]any{
		"conversation_id": conversationID,
		"department_id":   departmentID,
		"status":          "transferred",
		"transferred_at":  e.now().UTC().Format(time.RFC3339),
	}, nil
}

func (e *InternalExecutor) sendMessage(ctx context.Context, inv Invocation) (map[string]any, error) {
	payload := inv.Execution.Payload
	conversationID, err := stringField(ActionSendMessage, payload, "conversation_id")
	if err != nil {
		return nil, err
	}
	message, err := stringField(ActionSendMessage, payload, "message")
	if err != nil {
		return nil, err
	}

	messageID, err := e.platform.SendMessage(ctx, inv.Execution.TenantID, conversationID, message)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"message_id":      messageID,
		"conversation_id": conversationID,
		"sent_at":         e.now().UTC().Format(time.RFC3339),
	}, nil
}

func (e *InternalExecutor) closeConversation(ctx context.Context, inv Invocation) (map[string]any, error) {
	conversationID, err := stringField(ActionCloseConversation, inv.Execution.Payload, "conversation_id")
	if err != nil {
		return nil, err
	}

	if err := e.platform.CloseConversation(ctx, inv.Execution.TenantID, conversationID); err != nil {
		return nil, err
	}

	return map[string]any{
		"conversation_id": conversationID,
		"status":          "closed",
		"closed_at":       e.now().UTC().Format(time.RFC3339),
	}, nil
}

func (e *InternalExecutor) assignAgent(ctx context.Context, inv Invocation) (map[string]any, error) {
	payload := inv.Execution.Payload
	conversationID, err := stringField(ActionAssignAgent, payload, "conversation_id")
	if err != nil {
		return nil, err
	}
	agentID, err := stringField(ActionAssignAgent, payload, "agent_id")
	if err != nil {
		return nil, err
	}

	if err := e.platform.AssignAgent(ctx, inv.Execution.TenantID, conversationID, agentID); err != nil {
		return nil, err
	}

	return map[string]any{
		"conversation_id": conversationID,
		"agent_id":        agentID,
		"status":          "assigned",
		"assigned_at":     e.now().UTC().Format(time.RFC3339),
	}, nil
}

package api

import "fmt"

// ErrorType represents the category of a toolgate error.
type ErrorType string

const (
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeNotAuthorized  ErrorType = "not_authorized"
	ErrorTypeInvalidState   ErrorType = "invalid_state"
)

// Error codes used across the catalog and execution pipeline.
const (
	CodeToolNotFound     = "tool_not_found"
	CodeToolDisabled     = "tool_disabled"
	CodeAgentNotFound    = "agent_not_found"
	CodeNotAuthorized    = "tool_not_authorized"
	CodeSchemaValidation = "schema_validation_failed"
	CodeCannotCancel     = "cannot_cancel"
	CodeCannotRetry      = "cannot_retry"
)

// APIError is the structured error surfaced to callers of the core.
// Param names the offending field or slug where applicable.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Param, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse is the JSON wrapper for errors returned over HTTP.
// Violations carries the per-field messages of a schema validation
// failure and is empty for every other error.
type ErrorResponse struct {
	Error      *APIError `json:"error"`
	Violations []string  `json:"violations,omitempty"`
}

// NewInvalidRequestError builds a generic invalid-request error. Param
// names the offending field and may be empty.
func NewInvalidRequestError(param, msg string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: msg,
	}
}

// NewServerError builds an internal server error.
func NewServerError(msg string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: msg,
	}
}

// NewAgentNotFoundError reports that the requesting agent does not
// exist within the request's tenant.
func NewAgentNotFoundError(agentID string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Code:    CodeAgentNotFound,
		Param:   agentID,
		Message: fmt.Sprintf("agent %q not found", agentID),
	}
}

// NewToolNotFoundError reports that no enabled tool with the given slug
// is available to the requesting agent.
func NewToolNotFoundError(slug string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Code:    CodeToolNotFound,
		Param:   slug,
		Message: fmt.Sprintf("tool %q not found", slug),
	}
}

// NewToolDisabledError reports that the tool exists but is disabled.
func NewToolDisabledError(slug string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Code:    CodeToolDisabled,
		Param:   slug,
		Message: fmt.Sprintf("tool %q is disabled", slug),
	}
}

// NewNotAuthorizedError reports that the agent has no link to the tool
// or the tool belongs to another tenant.
func NewNotAuthorizedError(agentID, slug string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotAuthorized,
		Code:    CodeNotAuthorized,
		Param:   slug,
		Message: fmt.Sprintf("agent %q is not authorized to execute tool %q", agentID, slug),
	}
}

// NewInvalidStateError reports an operation attempted against an
// execution in a state that does not permit it.
func NewInvalidStateError(code string, status ExecutionStatus, msg string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidState,
		Code:    code,
		Param:   string(status),
		Message: msg,
	}
}

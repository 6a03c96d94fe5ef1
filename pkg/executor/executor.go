// Package executor performs the side-effecting work of a tool
// invocation. Implementations exist per tool kind: internal (in-process
// platform actions) and external (outbound HTTP). New kinds are added
// as new Executor variants, not by extending a dispatcher.
package executor

import (
	"context"
	"fmt"

	"github.com/chatdesk/toolgate/pkg/api"
)

// Invocation carries everything an executor needs for one attempt.
type Invocation struct {
	Tool      *api.Tool
	Execution *api.Execution
	Attempt   int
}

// Executor runs a single tool invocation attempt and returns the raw
// result record. The returned map is validated against the tool's
// output schema by the worker before the execution is marked
// successful.
type Executor interface {
	// Kind returns the tool kind this executor handles.
	Kind() api.ToolKind

	// Execute runs the invocation. Errors are retryable by default;
	// configuration defects are wrapped in *FatalError.
	Execute(ctx context.Context, inv Invocation) (map[string]any, error)
}

// FatalError marks a failure as a configuration defect that retrying
// cannot fix (unknown action, unknown tool kind). The worker fails the
// execution immediately instead of burning the remaining attempts.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string { return e.Err.Error() }

// Unwrap exposes the underlying error.
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as non-retryable.
func Fatal(format string, args ...any) *FatalError {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// ActionError reports a payload that passed schema validation but is
// missing fields a specific internal action requires. It is a second,
// action-level validation layer beneath the generic schema layer and
// is retried like any other executor failure.
type ActionError struct {
	Action string
	Field  string
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q requires field %q", e.Action, e.Field)
}

// stringField extracts a non-empty string payload field, or an
// ActionError naming it.
func stringField(action string, payload map[string]any, name string) (string, error) {
	v, ok := payload[name].(string)
	if !ok || v == "" {
		return "", &ActionError{Action: action, Field: name}
	}
	return v, nil
}

// optionalString extracts a string payload field, falling back to def.
func optionalString(payload map[string]any, name, def string) string {
	if v, ok := payload[name].(string); ok && v != "" {
		return v
	}
	return def
}

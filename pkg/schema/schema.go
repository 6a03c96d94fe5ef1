// Package schema validates untrusted JSON-like payloads against the
// declarative field schemas attached to tools. Validation is symmetric:
// the same algorithm checks input payloads before execution and result
// payloads after execution, so malformed data never reaches a persisted
// success state.
//
// Validation is closed-world: payload keys not declared in the schema
// are rejected. This is stricter than typical webhook tolerance and is
// deliberate, since these payloads drive side-effecting actions.
package schema

import (
	"fmt"
	"strings"
)

// ValidationError carries the full list of violations found in a single
// validation pass. Violations are accumulated, never short-circuited,
// so a caller sees every problem at once.
type ValidationError struct {
	Violations []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Violations, "; "))
}

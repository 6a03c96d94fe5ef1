package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/chatdesk/toolgate/pkg/api"
)

// ValidateDefinition checks that a schema definition itself is
// well-formed: every field descriptor in inputs and outputs has a
// non-empty name and an allowed type. It returns the accumulated list
// of problems, empty when the definition is valid. It never panics.
func ValidateDefinition(s api.ToolSchema) []string {
	var errs []string
	errs = append(errs, validateFields("inputs", s.Inputs)...)
	errs = append(errs, validateFields("outputs", s.Outputs)...)
	return errs
}

func validateFields(section string, fields []api.Field) []string {
	var errs []string
	seen := make(map[string]bool)
	for i, f := range fields {
		if f.Name == "" {
			errs = append(errs, fmt.Sprintf("%s[%d]: name is required", section, i))
		} else if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("%s[%d]: duplicate field name %q", section, i, f.Name))
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			errs = append(errs, fmt.Sprintf("%s[%d]: invalid type %q", section, i, f.Type))
		}
	}
	return errs
}

// ValidatePayload checks an input payload against the tool's input
// schema. A tool with an empty input schema accepts any payload. All
// violations are collected into a single *ValidationError.
func ValidatePayload(tool *api.Tool, payload map[string]any) error {
	return validateAgainst(tool.Schema.Inputs, payload)
}

// ValidateResult checks an execution result against the tool's output
// schema with the same algorithm as ValidatePayload. It is called after
// execution and before the execution is marked successful.
func ValidateResult(tool *api.Tool, result map[string]any) error {
	return validateAgainst(tool.Schema.Outputs, result)
}

func validateAgainst(fields []api.Field, payload map[string]any) error {
	// Permissive default: no declared fields means any payload passes.
	if len(fields) == 0 {
		return nil
	}

	var violations []string
	declared := make(map[string]api.Field, len(fields))
	for _, f := range fields {
		declared[f.Name] = f
	}

	for _, f := range fields {
		value, present := payload[f.Name]
		if !present {
			if f.Required {
				violations = append(violations, fmt.Sprintf("Missing required field: %s", f.Name))
			}
			continue
		}
		if !matchesType(value, f.Type) {
			violations = append(violations, fmt.Sprintf("Field %q must be of type %s", f.Name, f.Type))
		}
	}

	// Closed-world: any key not declared in the schema is rejected.
	// Sorted for deterministic error output.
	var extra []string
	for key := range payload {
		if _, ok := declared[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		violations = append(violations, fmt.Sprintf("Unexpected field: %s", key))
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// matchesType checks a runtime value against a declared field type.
// number accepts any numeric value including integers; integer requires
// an exact integer (a float carrying a fractional part fails); object
// accepts any keyed structure.
func matchesType(value any, t api.FieldType) bool {
	if value == nil {
		return false
	}

	switch t {
	case api.FieldString:
		_, ok := value.(string)
		return ok

	case api.FieldBoolean:
		_, ok := value.(bool)
		return ok

	case api.FieldNumber:
		return isNumeric(value)

	case api.FieldInteger:
		return isInteger(value)

	case api.FieldArray:
		k := reflect.ValueOf(value).Kind()
		return k == reflect.Slice || k == reflect.Array

	case api.FieldObject:
		return reflect.ValueOf(value).Kind() == reflect.Map
	}
	return false
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case json.Number:
		return true
	}
	return false
}

// isInteger accepts Go integer types directly. Values arriving through
// encoding/json are float64 (or json.Number); those count as integers
// only when they carry no fractional part.
func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == math.Trunc(v)
	case float32:
		return float64(v) == math.Trunc(float64(v))
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

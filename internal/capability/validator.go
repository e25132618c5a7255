package capability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Violation is a single validation failure against a capability's input
// schema.
type Violation struct {
	Param   string
	Message string
}

// ValidationResult is the outcome of ValidateArguments: on success,
// Coerced holds the type-coerced arguments; on any violation, Coerced
// equals the original, unmodified arguments (spec.md §8 quantified
// invariant).
type ValidationResult struct {
	Violations []Violation
	Coerced    map[string]any
}

func (r ValidationResult) IsValid() bool { return len(r.Violations) == 0 }

// ValidateArguments validates and coerces arguments against schema
// (a JSON-Schema fragment as parsed from YAML/JSON into map[string]any).
//
// Order, mirroring original_source/src/capability/schema_validator.rs:
//  1. Schema absent/empty -> pass through unchanged.
//  2. Missing or explicitly-null required parameters.
//  3. Unknown parameters not present in `properties`.
//  4. Required/unknown violations short-circuit before type checks, to
//     keep the error message focused.
//  5. Per-property type coercion.
//  6. Post-coercion enum/min/max/length constraints.
func ValidateArguments(arguments map[string]any, schema map[string]any) ValidationResult {
	if len(schema) == 0 {
		return passThrough(arguments)
	}
	properties, _ := schema["properties"].(map[string]any)
	if properties == nil {
		return passThrough(arguments)
	}

	var violations []Violation

	required := stringSlice(schema["required"])
	for _, name := range required {
		v, present := arguments[name]
		if !present {
			violations = append(violations, Violation{Param: name, Message: "required parameter missing"})
		} else if v == nil {
			violations = append(violations, Violation{Param: name, Message: "must not be null"})
		}
	}

	validNames := make([]string, 0, len(properties))
	for name := range properties {
		validNames = append(validNames, name)
	}
	sort.Strings(validNames)

	for name := range arguments {
		if _, ok := properties[name]; !ok {
			violations = append(violations, Violation{
				Param:   name,
				Message: fmt.Sprintf("unknown parameter — valid parameters are: %s", strings.Join(validNames, ", ")),
			})
		}
	}

	if len(violations) > 0 {
		return ValidationResult{Violations: violations, Coerced: arguments}
	}

	requiredSet := make(map[string]bool, len(required))
	for _, name := range required {
		requiredSet[name] = true
	}

	coerced := make(map[string]any, len(arguments))
	for name, value := range arguments {
		if value == nil && !requiredSet[name] {
			// Null is acceptable for optional params not in `required`.
			coerced[name] = nil
			continue
		}
		propSchema, _ := properties[name].(map[string]any)
		coercedValue, propViolations := validateProperty(name, value, propSchema)
		violations = append(violations, propViolations...)
		coerced[name] = coercedValue
	}

	if len(violations) > 0 {
		return ValidationResult{Violations: violations, Coerced: arguments}
	}
	return ValidationResult{Coerced: coerced}
}

func passThrough(arguments map[string]any) ValidationResult {
	return ValidationResult{Coerced: arguments}
}

func validateProperty(name string, value any, propSchema map[string]any) (any, []Violation) {
	if propSchema == nil {
		return value, nil
	}
	declaredType, _ := propSchema["type"].(string)

	coerced, ok := tryCoerce(value, declaredType)
	if !ok {
		return value, []Violation{{
			Param:   name,
			Message: fmt.Sprintf("expected type %s, got %T", declaredType, value),
		}}
	}

	var violations []Violation
	if enumVals := propSchema["enum"]; enumVals != nil {
		if !isInEnum(coerced, enumVals) {
			violations = append(violations, Violation{Param: name, Message: fmt.Sprintf("must be one of the allowed values for enum %v", enumVals)})
		}
	}

	if num, ok := asFloat(coerced); ok {
		if min, ok := asFloat(propSchema["minimum"]); ok && num < min {
			violations = append(violations, Violation{Param: name, Message: fmt.Sprintf("must be >= %v", min)})
		}
		if max, ok := asFloat(propSchema["maximum"]); ok && num > max {
			violations = append(violations, Violation{Param: name, Message: fmt.Sprintf("must be <= %v", max)})
		}
	}

	if s, ok := coerced.(string); ok {
		if minLen, ok := asFloat(propSchema["minLength"]); ok && len(s) < int(minLen) {
			violations = append(violations, Violation{Param: name, Message: fmt.Sprintf("must be at least %d characters", int(minLen))})
		}
		if maxLen, ok := asFloat(propSchema["maxLength"]); ok && len(s) > int(maxLen) {
			violations = append(violations, Violation{Param: name, Message: fmt.Sprintf("must be at most %d characters", int(maxLen))})
		}
	}

	return coerced, violations
}

// tryCoerce coerces value toward declaredType, matching spec.md §4.6 step 5.
func tryCoerce(value any, declaredType string) (any, bool) {
	switch declaredType {
	case "string":
		switch v := value.(type) {
		case string:
			return v, true
		case float64:
			return formatFloat(v), true
		case bool:
			return strconv.FormatBool(v), true
		default:
			return value, false
		}
	case "integer":
		switch v := value.(type) {
		case float64:
			if v == float64(int64(v)) {
				return int64(v), true
			}
			return value, false
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, true
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil && f == float64(int64(f)) {
				return int64(f), true
			}
			return value, false
		default:
			return value, false
		}
	case "number":
		switch v := value.(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
			return value, false
		default:
			return value, false
		}
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, true
		case string:
			switch strings.ToLower(v) {
			case "true", "1", "yes":
				return true, true
			case "false", "0", "no":
				return false, true
			default:
				return value, false
			}
		case float64:
			if v == 1 {
				return true, true
			}
			if v == 0 {
				return false, true
			}
			return value, false
		default:
			return value, false
		}
	case "array":
		if _, ok := value.([]any); ok {
			return value, true
		}
		return value, false
	case "object":
		if _, ok := value.(map[string]any); ok {
			return value, true
		}
		return value, false
	default:
		// No declared type: accept as-is.
		return value, true
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isInEnum(value any, enumVals any) bool {
	vals, ok := enumVals.([]any)
	if !ok {
		return true
	}
	for _, v := range vals {
		if fmt.Sprint(v) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// FormatError renders violations as an LLM-friendly error message that
// includes a "Valid parameters for this tool" listing with type,
// required/optional, enum options, and description for every schema
// property — so the calling model can self-correct.
func FormatError(violations []Violation, schema map[string]any) string {
	var b strings.Builder
	b.WriteString("Tool call validation failed:\n\n")
	for _, v := range violations {
		fmt.Fprintf(&b, "- Parameter %q: %s\n", v.Param, v.Message)
	}
	b.WriteString("\nValid parameters for this tool:\n")

	properties, _ := schema["properties"].(map[string]any)
	required := make(map[string]bool)
	for _, name := range stringSlice(schema["required"]) {
		required[name] = true
	}

	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		propSchema, _ := properties[name].(map[string]any)
		typ, _ := propSchema["type"].(string)
		if typ == "" {
			typ = "any"
		}
		req := "optional"
		if required[name] {
			req = "required"
		}
		line := fmt.Sprintf("  - %s: (type %s [%s])", name, typ, req)
		if enumVals, ok := propSchema["enum"].([]any); ok && len(enumVals) > 0 {
			opts := make([]string, len(enumVals))
			for i, v := range enumVals {
				opts[i] = fmt.Sprint(v)
			}
			line += fmt.Sprintf(" — one of: %s", strings.Join(opts, ", "))
		}
		if desc, ok := propSchema["description"].(string); ok && desc != "" {
			line += fmt.Sprintf(" — %s", desc)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return b.String()
}

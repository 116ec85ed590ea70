package tools

import (
	"fmt"
	"sort"
)

// ValidationResult reports problems with a call's arguments
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateArgs checks args against the declared parameters. Missing required
// parameters and wrong types are errors; undeclared arguments are warnings.
func ValidateArgs(def Definition, args map[string]any) ValidationResult {
	result := ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}

	declared := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		declared[p.Name] = true

		value, present := args[p.Name]
		if !present || value == nil {
			if p.Required {
				result.Errors = append(result.Errors, fmt.Sprintf("missing required parameter %q", p.Name))
			}
			continue
		}

		if !matchesType(p.Type, value) {
			result.Errors = append(result.Errors, fmt.Sprintf("parameter %q must be a %s", p.Name, p.Type))
		}
	}

	extra := make([]string, 0)
	for name := range args {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		result.Warnings = append(result.Warnings, fmt.Sprintf("unknown parameter %q ignored", name))
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// UnavailableValidation is used when a tool has no declared definition to check against
func UnavailableValidation() ValidationResult {
	return ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{"Validation unavailable: tool args could not be verified"},
	}
}

func matchesType(kind string, value any) bool {
	switch kind {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeArray:
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	default:
		return true
	}
}

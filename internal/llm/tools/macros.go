package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// MacroPrefix marks tool names that expand to a macro
	MacroPrefix = "macro_"
	// MaxTotalMacroSteps caps the steps run across all nested macro expansions
	MaxTotalMacroSteps = 20
)

var (
	ErrMacroStepLimit = errors.New("macro step limit exceeded")

	placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)
)

// MacroStep is one templated tool call of a macro
type MacroStep struct {
	ToolName string            `json:"tool_name"`
	Args     map[string]string `json:"args"`
}

// ToolMacro is a named sequence of tool calls with {{var}} placeholders
type ToolMacro struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Steps       []MacroStep `json:"steps"`
}

// MacroStepCounter is shared by every level of one macro run
type MacroStepCounter struct {
	Total int
	Max   int
}

// NewMacroStepCounter creates a counter with the default cap
func NewMacroStepCounter() *MacroStepCounter {
	return &MacroStepCounter{Max: MaxTotalMacroSteps}
}

// Next accounts for one more step, failing once the cap is reached
func (c *MacroStepCounter) Next() error {
	if c.Total >= c.Max {
		return fmt.Errorf("%w: %d steps", ErrMacroStepLimit, c.Max)
	}
	c.Total++
	return nil
}

// ResolveMacroSteps substitutes {{var}} placeholders from params.
// Unknown placeholders are left as they are.
func ResolveMacroSteps(macro ToolMacro, params map[string]any) []MacroStep {
	resolved := make([]MacroStep, 0, len(macro.Steps))
	for _, step := range macro.Steps {
		args := make(map[string]string, len(step.Args))
		for key, value := range step.Args {
			args[key] = placeholderPattern.ReplaceAllStringFunc(value, func(match string) string {
				name := match[2 : len(match)-2]
				if v, ok := params[name]; ok && v != nil {
					return stringify(v)
				}
				return match
			})
		}
		resolved = append(resolved, MacroStep{ToolName: step.ToolName, Args: args})
	}
	return resolved
}

// MacrosToDefinitions exposes macros as tools; running a macro always needs approval
func MacrosToDefinitions(macros []ToolMacro) []Definition {
	defs := make([]Definition, 0, len(macros))
	for _, m := range macros {
		defs = append(defs, Definition{
			Name:        MacroPrefix + m.Name,
			Description: "[Macro] " + m.Description,
			Parameters:  m.Parameters,
			DangerLevel: DangerMedium,
		})
	}
	return defs
}

// IsMacroCall reports whether a tool name refers to a macro
func IsMacroCall(toolName string) bool {
	return strings.HasPrefix(toolName, MacroPrefix)
}

// MacroName strips the macro prefix
func MacroName(toolName string) string {
	return strings.TrimPrefix(toolName, MacroPrefix)
}

// DefaultMacros returns the built-in macros
func DefaultMacros() []ToolMacro {
	return []ToolMacro{
		{
			ID:          "builtin-backup-edit",
			Name:        "safe_edit",
			DisplayName: "Safe Edit",
			Description: "Read a file, show its content, then edit it (read-before-write safety pattern)",
			Parameters: []Parameter{
				{Name: "path", Type: TypeString, Description: "File path to safely edit", Required: true},
				{Name: "find", Type: TypeString, Description: "String to find", Required: true},
				{Name: "replace", Type: TypeString, Description: "Replacement string", Required: true},
			},
			Steps: []MacroStep{
				{ToolName: "local_read", Args: map[string]string{"path": "{{path}}"}},
				{ToolName: "local_edit", Args: map[string]string{"path": "{{path}}", "find": "{{find}}", "replace": "{{replace}}"}},
			},
		},
		{
			ID:          "builtin-search-read",
			Name:        "find_and_read",
			DisplayName: "Find & Read",
			Description: "Search for files matching a pattern in a local directory",
			Parameters: []Parameter{
				{Name: "path", Type: TypeString, Description: "Directory to search", Required: true},
				{Name: "pattern", Type: TypeString, Description: `Search pattern (e.g. "*.go")`, Required: true},
			},
			Steps: []MacroStep{
				{ToolName: "local_search", Args: map[string]string{"path": "{{path}}", "pattern": "{{pattern}}"}},
			},
		},
	}
}

// stringify renders an argument value the way it would read in text
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// stepArgs widens resolved string arguments to the generic argument map
func stepArgs(step MacroStep) map[string]any {
	args := make(map[string]any, len(step.Args))
	for k, v := range step.Args {
		args[k] = v
	}
	return args
}

func sortMacros(macros []ToolMacro) {
	sort.Slice(macros, func(i, j int) bool { return macros[i].Name < macros[j].Name })
}

package tools

import (
	"context"
	"errors"
)

// DangerLevel decides whether a call may run without approval
type DangerLevel string

const (
	DangerSafe   DangerLevel = "safe"
	DangerMedium DangerLevel = "medium"
	DangerHigh   DangerLevel = "high"
)

// Parameter types accepted in tool definitions
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
)

var (
	ErrToolNotFound = errors.New("tool not found")
	ErrInvalidArgs  = errors.New("invalid tool arguments")
)

// Parameter describes one argument of a tool
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition is the declared capability behind a tool name
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	DangerLevel DangerLevel `json:"danger_level"`
}

// Tool is a capability the model can invoke. Implementations are supplied by the host.
type Tool interface {
	Name() string
	DangerLevel() DangerLevel
	Definition() Definition
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Previewer is implemented by tools that can describe their effect before approval
type Previewer interface {
	Preview(ctx context.Context, args map[string]any) (string, error)
}

// ExecuteFunc runs a tool with already parsed arguments
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

type funcTool struct {
	def Definition
	run ExecuteFunc
}

// NewFuncTool adapts a plain function to the Tool interface
func NewFuncTool(def Definition, run ExecuteFunc) Tool {
	return &funcTool{def: def, run: run}
}

func (t *funcTool) Name() string              { return t.def.Name }
func (t *funcTool) DangerLevel() DangerLevel  { return t.def.DangerLevel }
func (t *funcTool) Definition() Definition    { return t.def }
func (t *funcTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.run(ctx, args)
}

// StringArg returns a string argument, or "" when missing
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return stringify(v)
	}
}

// Spec converts the definition into a JSON schema description for native tool calling
func (d Definition) Spec() (name, description string, schema map[string]any) {
	properties := make(map[string]any, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if p.Type == TypeArray {
			prop["items"] = map[string]any{"type": TypeString}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return d.Name, d.Description, map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

package tools

import (
	"fmt"
	"strings"
)

// GenerateToolsPrompt describes the available tools and the call syntax for the system prompt
func GenerateToolsPrompt(defs []Definition) string {
	var b strings.Builder

	b.WriteString("AVAILABLE TOOLS:\n")
	for i, d := range defs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s: %s [%s]\n", d.Name, d.Description, d.DangerLevel)

		params := make([]string, 0, len(d.Parameters))
		for _, p := range d.Parameters {
			label := p.Type
			if p.Required {
				label += ", required"
			}
			params = append(params, fmt.Sprintf("%s (%s)", p.Name, label))
		}
		if len(params) > 0 {
			fmt.Fprintf(&b, "  Parameters: %s\n", strings.Join(params, ", "))
		}
	}

	b.WriteString(`
IMPORTANT RULES:
1. Safe tools run immediately; medium and high risk tools wait for user approval.
2. Never delete or overwrite files without an explicit user request.
3. Always say what you are about to do before calling a tool.

When you want to use a tool, respond with:
TOOL: tool_name
ARGS: {"param1": "value1", "param2": "value2"}`)

	return b.String()
}

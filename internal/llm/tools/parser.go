package tools

import (
	"encoding/json"
	"regexp"

	"github.com/charmbracelet/log"
	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern  = regexp.MustCompile("`[^`\n]+`")
	toolMarkerPattern  = regexp.MustCompile(`(?im)^TOOL:\s*(\w+)`)
	argsMarkerPattern  = regexp.MustCompile(`(?i)^\s*\n?\s*ARGS:\s*`)
)

// ParsedToolCall is a tool invocation extracted from model output
type ParsedToolCall struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ParseToolCalls extracts every TOOL:/ARGS: block from model output in document order.
// Markers inside code fences or inline code are ignored so documented examples never
// run. Arguments that are missing or not valid JSON become an empty map.
func ParseToolCalls(content string) []ParsedToolCall {
	masked := fencedBlockPattern.ReplaceAllStringFunc(content, blank)
	masked = inlineCodePattern.ReplaceAllStringFunc(masked, blank)

	var calls []ParsedToolCall
	for _, m := range toolMarkerPattern.FindAllStringSubmatchIndex(masked, -1) {
		name := masked[m[2]:m[3]]
		// masking keeps offsets, so arguments are read from the original text
		// and keep any backticks they carry
		calls = append(calls, ParsedToolCall{Tool: name, Args: parseArgs(content[m[1]:])})
	}
	return calls
}

// blank replaces every byte but newlines with a space
func blank(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
	return string(b)
}

// parseArgs reads the ARGS: object that follows a TOOL: marker
func parseArgs(rest string) map[string]any {
	args := map[string]any{}

	loc := argsMarkerPattern.FindStringIndex(rest)
	if loc == nil {
		return args
	}

	raw := extractObject(rest[loc[1]:])
	if raw == "" {
		return args
	}

	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		log.Debug("Ignoring malformed tool arguments", "err", err)
		return map[string]any{}
	}
	return args
}

// extractObject returns the balanced {...} prefix of s, or "" when s does not start with one.
// Braces inside JSON strings do not count.
func extractObject(s string) string {
	if len(s) == 0 || s[0] != '{' {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// SelectToolCalls prefers the provider's native tool calls over marker text
func SelectToolCalls(content string, native []llm.NativeToolCall) []ParsedToolCall {
	if len(native) == 0 {
		return ParseToolCalls(content)
	}

	calls := make([]ParsedToolCall, 0, len(native))
	for _, n := range native {
		args := n.Args
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, ParsedToolCall{ID: n.ID, Tool: n.Name, Args: args})
	}
	return calls
}

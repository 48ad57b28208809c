package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// toolCallPattern matches the delimited invocation block the textual tool
// protocol asks the model to emit.
var toolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// BuildToolPrompt renders the textual tool-calling protocol appended to the
// system instructions of backends without native function calling.
func BuildToolPrompt(tools []ToolSchema) string {
	if len(tools) == 0 {
		return ""
	}

	docs := make([]string, 0, len(tools))
	for _, tool := range tools {
		params := []string{}
		if props, ok := tool.Parameters["properties"].(map[string]interface{}); ok {
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				paramType := "string"
				if info, ok := props[name].(map[string]interface{}); ok {
					if t, ok := info["type"].(string); ok {
						paramType = t
					}
				}
				params = append(params, fmt.Sprintf("%s: %s", name, paramType))
			}
		}
		docs = append(docs, fmt.Sprintf("- %s(%s): %s", tool.Name, strings.Join(params, ", "), tool.Description))
	}

	return fmt.Sprintf(`## Tools
Use tools by responding with this EXACT format:

<tool_call>
{"name": "tool_name", "arguments": {"param1": "value1"}}
</tool_call>

ONE tool per response. Available tools:
%s

When task is fully done, respond normally WITHOUT any tool_call tag.`, strings.Join(docs, "\n"))
}

// ExtractToolCalls parses delimited invocation blocks out of free text.
// Malformed blocks are skipped.
func ExtractToolCalls(text string) []ToolCall {
	var calls []ToolCall

	for _, match := range toolCallPattern.FindAllStringSubmatch(text, -1) {
		var payload struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(match[1]), &payload); err != nil {
			continue
		}
		args := payload.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		calls = append(calls, ToolCall{
			ID:        fmt.Sprintf("call_%d", len(calls)),
			Name:      payload.Name,
			Arguments: args,
		})
	}

	return calls
}

// StripToolCalls removes invocation markup from model output, leaving only
// the surrounding reasoning text.
func StripToolCalls(text string) string {
	return strings.TrimSpace(toolCallPattern.ReplaceAllString(text, ""))
}

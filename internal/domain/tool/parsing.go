package tool

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ToolCall is a structured invocation extracted from an assistant reply.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

var (
	toolCallTag  = regexp.MustCompile(`(?s)<tool_call\s+name="([^"]+)"\s*>(.*?)</tool_call>`)
	finalAnswer  = regexp.MustCompile(`(?s)<final_answer>(.*?)</final_answer>`)
	reasoningTag = regexp.MustCompile(`(?s)<reasoning>(.*?)</reasoning>`)
)

// ParseToolCalls extracts structured tool invocations from assistant_text.
// The wire format is a sequence of `<tool_call name="X">{...json args...}
// </tool_call>` blocks. Call IDs are assigned deterministically from
// position (call-0, call-1, ...), so repeated parses of the same text are
// idempotent.
func ParseToolCalls(assistantText string) []ToolCall {
	matches := toolCallTag.FindAllStringSubmatch(assistantText, -1)
	calls := make([]ToolCall, 0, len(matches))
	for i, m := range matches {
		name := strings.TrimSpace(m[1])
		rawArgs := strings.TrimSpace(m[2])

		args := map[string]interface{}{}
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				args = map[string]interface{}{"_parse_error": err.Error(), "_raw": rawArgs}
			}
		}

		calls = append(calls, ToolCall{
			ID:        fmt.Sprintf("call-%d", i),
			Name:      name,
			Arguments: args,
		})
	}
	return calls
}

// HasToolCalls reports whether assistant_text contains at least one
// tool_call block.
func HasToolCalls(assistantText string) bool {
	return toolCallTag.MatchString(assistantText)
}

// HasFinalAnswer reports whether assistant_text contains a final_answer
// block.
func HasFinalAnswer(assistantText string) bool {
	return finalAnswer.MatchString(assistantText)
}

// ExtractAnswer returns the trimmed content of the final_answer block, or
// "" if none is present.
func ExtractAnswer(assistantText string) string {
	m := finalAnswer.FindStringSubmatch(assistantText)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractReasoning returns the trimmed content of the reasoning block, or
// "" if none is present.
func ExtractReasoning(assistantText string) string {
	m := reasoningTag.FindStringSubmatch(assistantText)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

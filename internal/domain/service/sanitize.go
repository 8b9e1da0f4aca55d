package service

import (
	"fmt"
	"strings"
)

// DefaultMaxToolOutputChars bounds a single tool result before it re-enters
// the conversation — a large file dump or command output otherwise eats the
// inner loop's whole context budget in one tool turn.
const DefaultMaxToolOutputChars = 8000

// TruncateOutput trims tool output to maxChars, appending a notice if truncated.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	// Find a good break point (newline near the limit)
	breakAt := maxChars
	lastNewline := strings.LastIndex(output[:maxChars], "\n")
	if lastNewline > maxChars*3/4 {
		breakAt = lastNewline
	}

	truncated := output[:breakAt]
	remaining := len(output) - breakAt
	return fmt.Sprintf("%s\n\n[... truncated %d characters. Use read_file with line ranges for full content.]", truncated, remaining)
}

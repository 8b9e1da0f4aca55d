package entity

import "time"

// AgentEventType is the SSE event discriminator produced by the engine.
type AgentEventType string

const (
	EventStatus                 AgentEventType = "status"
	EventThinking                AgentEventType = "thinking"
	EventContent                 AgentEventType = "content"
	EventToolCall                AgentEventType = "tool_call"
	EventToolResult              AgentEventType = "tool_result"
	EventPlanCreated             AgentEventType = "plan_created"
	EventPlanRevised             AgentEventType = "plan_revised"
	EventTaskStart               AgentEventType = "task_start"
	EventTaskComplete            AgentEventType = "task_complete"
	EventTaskFailed              AgentEventType = "task_failed"
	EventTaskUpdate              AgentEventType = "task_update"
	EventResearchProgressUpdate  AgentEventType = "research_progress_update"
	EventAnswerGenerating        AgentEventType = "answer_generating"
	EventAnswerReady             AgentEventType = "answer_ready"
	EventError                   AgentEventType = "error"
	EventDone                    AgentEventType = "done"
)

// AgentEvent is a single typed, causally-ordered progress event in a
// session's SSE stream. Payload carries the type-specific keys named for
// each event type; a plain map lets demultiplexing by the `type`
// discriminator reach the wire shape without a Go-side type switch.
type AgentEvent struct {
	Type      AgentEventType         `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewAgentEvent constructs an event with an initialized payload map so
// callers can assign keys without a nil check.
func NewAgentEvent(t AgentEventType, payload map[string]interface{}) AgentEvent {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return AgentEvent{Type: t, Payload: payload}
}

// ToolCallEvent describes a tool invocation, used to populate tool_call /
// tool_result payloads.
type ToolCallEvent struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Arguments     map[string]interface{} `json:"arguments"`
	Output        string                 `json:"output,omitempty"`
	Success       bool                   `json:"success"`
	ExecutionTime time.Duration          `json:"execution_time,omitempty"`
}

// ToolCallInfo represents a tool call parsed from an LLM response, prior to
// dispatch and execution.
type ToolCallInfo struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

package service

import (
	"time"

	"github.com/agentcore/agentcore/internal/domain/entity"
)

// LLMMessage is the wire-level message shape exchanged with the LLM client
// port (§6 External Interfaces — LLM client). It is distinct from the
// Context Manager's append-only Message log: LLMMessage is what actually
// gets marshalled into a request after plan recitation / compression have
// been applied.
type LLMMessage struct {
	Role       string // system | user | assistant | tool
	Content    string
	Name       string // tool name, when Role == "tool"
	ToolCallID string // correlates a tool-role message back to its ToolCall
	ToolCalls  []entity.ToolCallInfo
}

// TextContent returns the message's text content.
func (m LLMMessage) TextContent() string {
	return m.Content
}

// ToolCallRef is an alias of entity.ToolCallInfo kept for readability at
// call sites that deal purely with dispatch, not wire messages.
type ToolCallRef = entity.ToolCallInfo

// LLMRequest is issued to the LLMClient port.
type LLMRequest struct {
	Model       string
	Messages    []LLMMessage
	System      string
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// ToolDefinition is advertised to the model so it knows what it may call.
// Parameters is a JSON Schema object validated via
// github.com/santhosh-tekuri/jsonschema/v6 before a call is dispatched.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// LLMResponse is the LLM client port's reply.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCallRef
	InputTokens  int
	OutputTokens int
	Model        string
}

// StreamChunk is one increment of a streaming LLM reply.
type StreamChunk struct {
	Delta        string
	ToolCallRefs []ToolCallRef
	Done         bool
}

// LLMClient is the narrow consumed interface named in spec §6 — the LLM
// provider itself is explicitly out of scope; the core only depends on this.
type LLMClient interface {
	Generate(ctx interface{ Done() <-chan struct{} }, req *LLMRequest) (*LLMResponse, error)
	GenerateStream(ctx interface{ Done() <-chan struct{} }, req *LLMRequest) (<-chan StreamChunk, error)
}

// AgentResult is returned by a completed run of the outer control loop.
type AgentResult struct {
	FinalContent string
	Success      bool
	Steps        int
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Error        error
}

// EngineConfig holds the Configuration options named in spec §6.
type EngineConfig struct {
	Model string

	MaxIterations  int           `json:"max_iterations" mapstructure:"max_iterations"`
	TimeoutSeconds int           `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	TaskTimeout    time.Duration `json:"task_timeout" mapstructure:"task_timeout"`

	Enable3Strike             bool `json:"enable_3_strike" mapstructure:"enable_3_strike"`
	EnableActionSpacePruning  bool `json:"enable_action_space_pruning" mapstructure:"enable_action_space_pruning"`

	SkillConfidenceThreshold   float64 `json:"skill_confidence_threshold" mapstructure:"skill_confidence_threshold"`
	StructuredTaskConfidence   float64 `json:"structured_task_confidence" mapstructure:"structured_task_confidence"`

	BaseBudget           int     `json:"base_budget" mapstructure:"base_budget"`
	AvailableTimeSeconds float64 `json:"available_time_seconds" mapstructure:"available_time_seconds"`
	ContextWindowLimit   int     `json:"context_window_limit" mapstructure:"context_window_limit"`

	CheckpointInterval int `json:"checkpoint_interval" mapstructure:"checkpoint_interval"`
	MaxCheckpoints     int `json:"max_checkpoints" mapstructure:"max_checkpoints"`

	ContextClearThreshold int `json:"context_clear_threshold" mapstructure:"context_clear_threshold"`
	ContextTokenThreshold int `json:"context_token_threshold" mapstructure:"context_token_threshold"`

	MaxParallelTasks int `json:"max_parallel_tasks" mapstructure:"max_parallel_tasks"`
	MaxParallelTools int `json:"max_parallel_tools" mapstructure:"max_parallel_tools"`

	RecentMessagesRetained int `json:"recent_messages_retained" mapstructure:"recent_messages_retained"`
}

// DefaultEngineConfig mirrors the defaults named in spec §4/§6.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations:              10,
		TimeoutSeconds:             300,
		TaskTimeout:                300 * time.Second,
		Enable3Strike:              true,
		EnableActionSpacePruning:   true,
		SkillConfidenceThreshold:   0.85,
		StructuredTaskConfidence:   0.70,
		BaseBudget:                 20,
		AvailableTimeSeconds:       300,
		ContextWindowLimit:         128000,
		CheckpointInterval:         5,
		MaxCheckpoints:             3,
		ContextClearThreshold:      200,
		ContextTokenThreshold:      100000,
		MaxParallelTasks:           4,
		MaxParallelTools:           4,
		RecentMessagesRetained:     10,
	}
}

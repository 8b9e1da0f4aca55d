package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	domaintool "github.com/agentcore/agentcore/internal/domain/tool"
	"github.com/agentcore/agentcore/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// Executor dispatches parsed ToolCalls against a Registry, enforcing both
// the static Policy (profile allow/deny lists) and the dynamic AllowList
// (Action-Space Pruning).
type Executor struct {
	registry    domaintool.Registry
	policy      *domaintool.Policy
	allowList   *domaintool.AllowList
	sandbox     *sandbox.ProcessSandbox
	logger      *zap.Logger
	execContext domaintool.ExecutionContext
}

// NewExecutor creates a tool Executor.
func NewExecutor(
	registry domaintool.Registry,
	policy *domaintool.Policy,
	allowList *domaintool.AllowList,
	sandbox *sandbox.ProcessSandbox,
	logger *zap.Logger,
) *Executor {
	if allowList == nil {
		allowList = domaintool.NewAllowList()
	}
	return &Executor{
		registry:    registry,
		policy:      policy,
		allowList:   allowList,
		sandbox:     sandbox,
		logger:      logger,
		execContext: domaintool.ExecContextSandbox,
	}
}

// ToolResult is the outcome of one ToolCall.
type ToolResult struct {
	ToolCallID string
	Output     string
	Success    bool
	Error      string
	Metadata   map[string]interface{}
}

// ToolDef is a model-facing tool definition.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Execute runs a single ToolCall, refusing execution (but not existence)
// for tools outside the current allow-list.
func (e *Executor) Execute(ctx context.Context, call domaintool.ToolCall) *ToolResult {
	start := time.Now()

	if !e.allowList.IsAllowed(call.Name) || (e.policy != nil && !e.policy.IsAllowed(call.Name)) {
		e.logger.Warn("tool execution refused: not in allow-list", zap.String("tool", call.Name))
		return &ToolResult{
			ToolCallID: call.ID,
			Success:    false,
			Error:      fmt.Sprintf("tool %q is not in the current allow-list", call.Name),
			Metadata:   map[string]interface{}{"failure_type": "permission_denied"},
		}
	}

	t, exists := e.registry.Get(call.Name)
	if !exists {
		return &ToolResult{
			ToolCallID: call.ID,
			Success:    false,
			Error:      fmt.Sprintf("tool %q not found", call.Name),
			Metadata:   map[string]interface{}{"failure_type": "resource_not_found"},
		}
	}

	if err := domaintool.ValidateArguments(t, call.Arguments); err != nil {
		e.logger.Warn("tool argument validation failed", zap.String("tool", call.Name), zap.Error(err))
		return &ToolResult{
			ToolCallID: call.ID,
			Success:    false,
			Error:      err.Error(),
			Metadata:   map[string]interface{}{"failure_type": "invalid_params"},
		}
	}

	e.logger.Info("executing tool", zap.String("tool", call.Name), zap.String("call_id", call.ID))
	result, err := t.Execute(ctx, call.Arguments)
	duration := time.Since(start)

	if err != nil {
		e.logger.Error("tool execution error", zap.String("tool", call.Name), zap.Duration("duration", duration), zap.Error(err))
		errOut := ""
		if result != nil {
			errOut = result.Error
		}
		if errOut == "" {
			errOut = err.Error()
		}
		return &ToolResult{ToolCallID: call.ID, Success: false, Error: errOut}
	}

	e.logger.Info("tool execution completed", zap.String("tool", call.Name), zap.Duration("duration", duration), zap.Bool("success", result.Success))
	return &ToolResult{
		ToolCallID: call.ID,
		Output:     result.Output,
		Success:    result.Success,
		Error:      result.Error,
		Metadata:   result.Metadata,
	}
}

// ExecuteAll runs every call, in parallel where tools are independent
// (i.e. always — the executor does not infer cross-call dependencies).
// Results are returned in the same order as calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []domaintool.ToolCall) []*ToolResult {
	results := make([]*ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call domaintool.ToolCall) {
			defer wg.Done()
			results[i] = e.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// ExitCode extracts exit_context.exit_code from an exit tool's result
// metadata, if present.
func ExitCode(result *ToolResult) (code int, ok bool) {
	if result == nil || result.Metadata == nil {
		return 0, false
	}
	ec, ok := result.Metadata["exit_context"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	switch v := ec["exit_code"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// GetToolDefs returns the policy-filtered, model-facing tool definitions.
func (e *Executor) GetToolDefs() []ToolDef {
	enforcer := domaintool.NewPolicyEnforcer(e.policy, e.registry)
	filtered := enforcer.FilteredList()

	defs := make([]ToolDef, len(filtered))
	for i, def := range filtered {
		defs[i] = ToolDef{Name: def.Name, Description: def.Description, Parameters: def.Parameters}
	}
	return defs
}

// SetExecutionContext sets where tool execution happens (gateway, sandbox,
// remote).
func (e *Executor) SetExecutionContext(ctx domaintool.ExecutionContext) {
	e.execContext = ctx
}

// NeedsApproval reports whether the active Policy requires user
// confirmation before executing mutating tools.
func (e *Executor) NeedsApproval() bool {
	return e.policy != nil && e.policy.AskMode
}

package tool

import (
	"context"

	"github.com/agentcore/agentcore/internal/domain/execution"
	domaintool "github.com/agentcore/agentcore/internal/domain/tool"
)

// RunnerAdapter wraps an Executor to satisfy execution.ToolRunner, copying
// each infrastructure ToolResult into the domain's independent ToolOutcome
// shape so the domain layer never imports this package.
type RunnerAdapter struct {
	executor *Executor
}

// NewRunnerAdapter wraps executor for use as an execution.ToolRunner.
func NewRunnerAdapter(executor *Executor) *RunnerAdapter {
	return &RunnerAdapter{executor: executor}
}

var _ execution.ToolRunner = (*RunnerAdapter)(nil)

// ExecuteAll implements execution.ToolRunner.
func (a *RunnerAdapter) ExecuteAll(ctx context.Context, calls []domaintool.ToolCall) []*execution.ToolOutcome {
	results := a.executor.ExecuteAll(ctx, calls)
	outcomes := make([]*execution.ToolOutcome, len(results))
	for i, r := range results {
		if r == nil {
			continue
		}
		outcomes[i] = &execution.ToolOutcome{
			ToolCallID: r.ToolCallID,
			Output:     r.Output,
			Success:    r.Success,
			Error:      r.Error,
			Metadata:   r.Metadata,
		}
	}
	return outcomes
}

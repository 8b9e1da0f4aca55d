package sandbox

import (
	"context"

	"github.com/agentcore/agentcore/internal/domain/execution"
)

// CodeSandboxAdapter wraps a ProcessSandbox to satisfy execution.CodeSandbox,
// dropping the infrastructure Result's Duration field that the router has
// no use for.
type CodeSandboxAdapter struct {
	sandbox *ProcessSandbox
}

// NewCodeSandboxAdapter wraps sandbox for use as an execution.CodeSandbox.
func NewCodeSandboxAdapter(sandbox *ProcessSandbox) *CodeSandboxAdapter {
	return &CodeSandboxAdapter{sandbox: sandbox}
}

var _ execution.CodeSandbox = (*CodeSandboxAdapter)(nil)

// ExecuteScript implements execution.CodeSandbox.
func (a *CodeSandboxAdapter) ExecuteScript(ctx context.Context, interpreter, script string) (*execution.SandboxResult, error) {
	r, err := a.sandbox.ExecuteScript(ctx, interpreter, script)
	if err != nil {
		return nil, err
	}
	return &execution.SandboxResult{
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		ExitCode: r.ExitCode,
		Killed:   r.Killed,
	}, nil
}

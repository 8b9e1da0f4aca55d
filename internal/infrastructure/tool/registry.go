package tool

import (
	domaintool "github.com/agentcore/agentcore/internal/domain/tool"
	"github.com/agentcore/agentcore/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// ToolLayerDeps aggregates the dependencies needed by the tool layer. This
// is the single configuration point for the entire tool subsystem.
type ToolLayerDeps struct {
	Registry domaintool.Registry
	Logger   *zap.Logger

	// Sandbox backs every file/shell tool and must be non-nil; those tools
	// call it without a nil check.
	Sandbox *sandbox.ProcessSandbox
}

// RegisterAllTools registers every illustrative/core tool in one place.
// Concrete domain-specific tool implementations (browser automation, web
// search, code intelligence, messaging, MCP bridges) are external
// collaborators per the tool-registry's contract and are not implemented
// here — the registry only needs to dispatch by name to whatever Tool is
// registered.
//
// Registration order:
//  1. Core tools (always allowed, regardless of Action-Space Pruning)
//  2. Supporting file/search tools
func RegisterAllTools(deps ToolLayerDeps) int {
	tools := []domaintool.Tool{
		// ── Core (unconditionally allowed) ──
		NewReadFileTool(deps.Sandbox, deps.Logger),
		NewWriteFileTool(deps.Sandbox, deps.Logger),
		NewBashTool(deps.Sandbox, deps.Logger), // registered as "bash", the run_code-shaped core tool
		NewExitTool(deps.Logger),

		// ── Supporting ──
		NewEditFileTool(deps.Sandbox, deps.Logger),
		NewListDirTool(deps.Sandbox, deps.Logger),
		NewSearchTool(deps.Sandbox, deps.Logger),
		NewGlobTool(deps.Sandbox, deps.Logger),
		NewApplyPatchTool(deps.Sandbox, deps.Logger),
		NewWebFetchTool(deps.Sandbox, deps.Logger),
		NewUpdatePlanTool(deps.Logger),
	}

	registered := 0
	for _, t := range tools {
		if err := deps.Registry.Register(t); err != nil {
			deps.Logger.Warn("failed to register tool", zap.String("tool", t.Name()), zap.Error(err))
			continue
		}
		deps.Logger.Info("registered tool", zap.String("tool", t.Name()))
		registered++
	}

	deps.Logger.Info("tool layer initialized", zap.Int("total_registered", registered))
	return registered
}

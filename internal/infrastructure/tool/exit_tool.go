package tool

import (
	"context"
	"fmt"

	domaintool "github.com/agentcore/agentcore/internal/domain/tool"
	"go.uber.org/zap"
)

// ExitTool is a core tool the model calls to end its own reasoning loop
// early. Its result metadata carries exit_context.exit_code, which ExitCode
// (executor.go) extracts; the Engine's loop does not inspect it.
type ExitTool struct {
	logger *zap.Logger
}

func NewExitTool(logger *zap.Logger) *ExitTool {
	return &ExitTool{logger: logger}
}

func (t *ExitTool) Name() string         { return "exit" }
func (t *ExitTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *ExitTool) Description() string {
	return "Ends the current reasoning loop immediately. Call this once the task is fully complete, " +
		"or when it cannot be completed and further iteration would not help. " +
		"code=0 means success, any other value is treated as a failure short-circuit."
}

func (t *ExitTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "integer",
				"description": "Exit code: 0 for success, non-zero for failure.",
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Short explanation of why the loop is ending.",
			},
		},
		"required": []string{"code"},
	}
}

func (t *ExitTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	codeF, ok := args["code"].(float64)
	if !ok {
		return &domaintool.Result{Success: false, Error: "code is required"}, fmt.Errorf("code is required")
	}
	code := int(codeF)
	reason, _ := args["reason"].(string)

	t.logger.Info("exit tool invoked", zap.Int("code", code), zap.String("reason", reason))

	return &domaintool.Result{
		Output:  fmt.Sprintf("exiting with code %d: %s", code, reason),
		Success: true,
		Metadata: map[string]interface{}{
			"exit_context": map[string]interface{}{
				"exit_code": code,
				"reason":    reason,
			},
		},
	}, nil
}

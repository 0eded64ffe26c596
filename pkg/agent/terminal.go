package agent

import (
	"context"
	"fmt"

	"github.com/vostra/endura/pkg/toolexecutor"
)

// TerminalTool builds the designated terminal tool. Calling it ends
// the run; its output argument becomes the run's result.
func TerminalTool(name string) *toolexecutor.ToolDefinition {
	return &toolexecutor.ToolDefinition{
		Name:        name,
		Description: "Finish the task and report the final result. Call this exactly once, when the task is fully complete.",
		Parameters: []toolexecutor.ToolParameter{
			{
				Name:        "output",
				Type:        "string",
				Description: "The complete final answer or result of the task",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}, execCtx *toolexecutor.ExecutionContext) (interface{}, error) {
			output, ok := args["output"].(string)
			if !ok || output == "" {
				return nil, fmt.Errorf("output must be a non-empty string")
			}
			return output, nil
		},
	}
}

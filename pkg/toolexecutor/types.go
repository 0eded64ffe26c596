package toolexecutor

import (
	"context"
	"time"
)

// ToolParameter defines a single parameter of a tool.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolHandler is the function signature for tool execution.
type ToolHandler func(ctx context.Context, args map[string]interface{}, execCtx *ExecutionContext) (interface{}, error)

// ToolDefinition defines a tool's metadata and handler.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// InputSchema returns the JSON Schema describing the tool's arguments.
func (d *ToolDefinition) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range d.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// ExecutionContext provides runtime information for tool execution.
type ExecutionContext struct {
	TaskID     string
	AgentID    string
	WorkingDir string
	Timeout    time.Duration
}

// Result represents the outcome of a single tool execution.
type Result struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ActionRecord is the durable record of one executed tool invocation.
// The agent loop appends one to both its fact history and its render
// history for every call it makes.
type ActionRecord struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    interface{}            `json:"result"`
}

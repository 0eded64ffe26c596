package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Executor manages tool registration and execution. Arguments are
// validated against the tool's JSON Schema before the handler runs.
type Executor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates a new tool executor.
func New(logger zerolog.Logger) *Executor {
	return &Executor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool definition, compiling its argument schema.
func (e *Executor) Register(def *ToolDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s requires a handler", def.Name)
	}

	schemaJSON, err := json.Marshal(def.InputSchema())
	if err != nil {
		return fmt.Errorf("failed to marshal schema for %s: %w", def.Name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	e.tools[def.Name] = def
	e.schemas[def.Name] = schema

	e.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// GetTool returns the definition for a tool, or nil if unknown.
func (e *Executor) GetTool(name string) *ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools[name]
}

// ListTools returns all registered tool definitions.
func (e *Executor) ListTools() []*ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]*ToolDefinition, 0, len(e.tools))
	for _, def := range e.tools {
		defs = append(defs, def)
	}
	return defs
}

// Execute runs a tool by name. Unknown tools, invalid arguments, and
// handler errors are reported through Result.Error rather than a Go
// error so callers always receive a structured outcome.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]interface{}, execCtx *ExecutionContext) Result {
	e.mu.RLock()
	def := e.tools[name]
	schema := e.schemas[name]
	e.mu.RUnlock()

	if def == nil {
		return Result{Error: fmt.Sprintf("tool not found: %s", name)}
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	if err := e.validateArgs(schema, args); err != nil {
		e.logger.Warn().Str("tool", name).Err(err).Msg("Tool argument validation failed")
		return Result{Error: fmt.Sprintf("invalid arguments for %s: %v", name, err)}
	}

	if execCtx == nil {
		execCtx = &ExecutionContext{}
	}
	if execCtx.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, execCtx.Timeout)
		defer cancel()
	}

	output, err := def.Handler(ctx, args, execCtx)
	if err != nil {
		e.logger.Warn().Str("tool", name).Err(err).Msg("Tool execution failed")
		return Result{Error: err.Error()}
	}

	e.logger.Debug().Str("tool", name).Msg("Tool executed")
	return Result{Success: true, Output: output}
}

// validateArgs checks arguments against the compiled schema.
func (e *Executor) validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

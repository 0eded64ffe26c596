// Package agent drives one agent turn by turn: it renders a prompt
// from the bounded render history, forces the model to act through
// tools, executes the resulting calls, and consolidates context on a
// fixed tool-call cadence so the working set never grows unbounded.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vostra/endura/pkg/checkpoint"
	"github.com/vostra/endura/pkg/consolidate"
	"github.com/vostra/endura/pkg/llm"
	"github.com/vostra/endura/pkg/toolexecutor"
)

const systemPrompt = `You are an autonomous agent working on a long-running task. You act only through tool calls; every turn you must call at least one tool. When the task is fully done, call the terminal tool with your final answer. Use your consolidated state and recent actions to decide the next step.`

// Runner executes agents to completion.
type Runner struct {
	cfg Config
}

// runState is the loop's mutable state, the same shape that is
// checkpointed each turn.
type runState struct {
	turn          int
	toolCalls     int
	lastBoundary  int
	renderHistory []toolexecutor.ActionRecord
	factHistory   []toolexecutor.ActionRecord
	consolidated  string
}

// NewRunner creates a runner from config, applying defaults.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("hierarchy registry is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("consolidation engine is required")
	}
	if cfg.Renderer == nil {
		cfg.Renderer = NewContextBuilder(cfg.Registry)
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 50
	}
	if cfg.ConsolidationInterval <= 0 {
		cfg.ConsolidationInterval = 10
	}
	if cfg.TerminalTool == "" {
		cfg.TerminalTool = "final_output"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Runner{cfg: cfg}, nil
}

// Run executes one agent until it calls the terminal tool, faults, or
// hits the turn ceiling. Faults inside the loop are converted into a
// RunFailed result; the returned error covers only setup failures
// before the loop starts.
func (r *Runner) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	if params.TaskID == "" || params.AgentName == "" {
		return nil, fmt.Errorf("task id and agent name are required")
	}

	agentID, err := r.cfg.Registry.Push(params.AgentName, params.UserInput)
	if err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}

	logger := r.cfg.Logger.With().
		Str("runId", uuid.NewString()).
		Str("taskId", params.TaskID).
		Str("agentId", agentID).
		Logger()

	st := &runState{
		renderHistory: []toolexecutor.ActionRecord{},
		factHistory:   []toolexecutor.ActionRecord{},
	}
	r.restore(ctx, logger, params.TaskID, agentID, st)

	tools := r.buildTools()

	if st.consolidated != "" {
		// Resumed run: the render history was reset at the last
		// boundary, so the checkpointed consolidated state is the only
		// context the next prompt has. Republish it in case the
		// registry's copy is gone.
		if err := r.cfg.Registry.UpdateThinking(agentID, st.consolidated); err != nil {
			logger.Error().Err(err).Msg("Failed to republish consolidated state")
		}
	} else {
		// First run of a fresh agent: produce an initial plan before
		// the first turn so the model starts from a consolidated state.
		r.consolidateNow(ctx, logger, st, params, agentID, tools)
	}

	for st.turn < r.cfg.MaxTurns {
		r.saveCheckpoint(ctx, logger, params.TaskID, agentID, st)

		// Deferred boundary check. This also retries a consolidation
		// that failed at the eager check last turn.
		r.maybeConsolidate(ctx, logger, st, params, agentID, tools)

		prompt := r.cfg.Renderer.Render(params.TaskID, agentID, params.AgentName, params.UserInput, st.renderHistory)

		response, err := r.callWithRetry(ctx, logger, llm.Request{
			Model:        r.cfg.Model,
			SystemPrompt: systemPrompt,
			Messages:     []llm.Message{{Role: "user", Content: prompt}},
			Tools:        tools,
			ToolChoice:   llm.ToolChoiceRequired,
			Temperature:  r.cfg.Temperature,
			MaxTokens:    r.cfg.MaxTokens,
		})
		if err != nil {
			return r.fail(logger, agentID, st, fmt.Errorf("model call failed: %w", err)), nil
		}
		if len(response.ToolCalls) == 0 {
			return r.fail(logger, agentID, st, fmt.Errorf("model returned no tool calls under forced tool use")), nil
		}

		for _, call := range response.ToolCalls {
			result := r.cfg.Tools.Execute(ctx, call.Name, call.Arguments, &toolexecutor.ExecutionContext{
				TaskID:  params.TaskID,
				AgentID: agentID,
			})

			record := toolexecutor.ActionRecord{
				ToolName:  call.Name,
				Arguments: call.Arguments,
				Result:    result,
			}
			st.factHistory = append(st.factHistory, record)
			st.renderHistory = append(st.renderHistory, record)
			st.toolCalls++

			logger.Debug().
				Str("tool", call.Name).
				Int("toolCalls", st.toolCalls).
				Msg("Tool call executed")

			// Terminal action completes the run; remaining calls in
			// this batch are not executed.
			if call.Name == r.cfg.TerminalTool {
				return r.complete(ctx, logger, params.TaskID, agentID, st, call, result), nil
			}
		}

		// Eager boundary check so a batch that crosses the interval
		// consolidates before the next turn renders.
		r.maybeConsolidate(ctx, logger, st, params, agentID, tools)

		st.turn++
	}

	return r.timeout(logger, agentID, st), nil
}

// restore loads the checkpoint for this agent, if one exists.
func (r *Runner) restore(ctx context.Context, logger zerolog.Logger, taskID, agentID string, st *runState) {
	if r.cfg.Checkpoints == nil {
		return
	}

	cp, err := r.cfg.Checkpoints.Load(ctx, taskID, agentID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load checkpoint, starting fresh")
		return
	}
	if cp == nil {
		return
	}

	st.turn = cp.Turn
	st.toolCalls = cp.ToolCalls
	st.lastBoundary = cp.LastBoundary
	st.renderHistory = cp.RenderHistory
	st.factHistory = cp.FactHistory
	st.consolidated = cp.Consolidated

	logger.Info().
		Int("turn", st.turn).
		Int("toolCalls", st.toolCalls).
		Msg("Resumed from checkpoint")
}

// saveCheckpoint persists the loop state. Checkpoint failures never
// stop the run.
func (r *Runner) saveCheckpoint(ctx context.Context, logger zerolog.Logger, taskID, agentID string, st *runState) {
	if r.cfg.Checkpoints == nil {
		return
	}

	err := r.cfg.Checkpoints.Save(ctx, taskID, agentID, checkpoint.Checkpoint{
		Turn:          st.turn,
		ToolCalls:     st.toolCalls,
		LastBoundary:  st.lastBoundary,
		RenderHistory: st.renderHistory,
		FactHistory:   st.factHistory,
		Consolidated:  st.consolidated,
		UpdatedAt:     time.Now(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to save checkpoint")
	}
}

// maybeConsolidate consolidates when the tool-call counter has crossed
// an interval boundary that has not been consolidated yet. The
// explicit boundary marker keeps a resume at an exact multiple of the
// interval from consolidating again.
func (r *Runner) maybeConsolidate(ctx context.Context, logger zerolog.Logger, st *runState, params RunParams, agentID string, tools []llm.Tool) {
	interval := r.cfg.ConsolidationInterval
	boundary := (st.toolCalls / interval) * interval
	if boundary == 0 || boundary <= st.lastBoundary {
		return
	}

	if r.consolidateNow(ctx, logger, st, params, agentID, tools) {
		st.renderHistory = []toolexecutor.ActionRecord{}
		st.lastBoundary = boundary
		logger.Info().
			Int("boundary", boundary).
			Msg("Render history reset after consolidation")
	}
}

// consolidateNow runs one consolidation and publishes the result. On
// failure the run continues with the previous consolidated state.
func (r *Runner) consolidateNow(ctx context.Context, logger zerolog.Logger, st *runState, params RunParams, agentID string, tools []llm.Tool) bool {
	prompt := r.cfg.Renderer.Render(params.TaskID, agentID, params.AgentName, params.UserInput, st.renderHistory)

	consolidated, err := r.cfg.Engine.Consolidate(ctx, consolidate.Request{
		PromptContext: prompt,
		Tools:         tools,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Consolidation failed, continuing with stale state")
		return false
	}

	st.consolidated = consolidated
	if err := r.cfg.Registry.UpdateThinking(agentID, consolidated); err != nil {
		logger.Error().Err(err).Msg("Failed to publish consolidated state")
	}
	return true
}

// callWithRetry calls the model, retrying transient failures with
// exponential backoff.
func (r *Runner) callWithRetry(ctx context.Context, logger zerolog.Logger, request llm.Request) (*llm.Response, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn().
				Int("attempt", attempt).
				Err(lastErr).
				Msg("Retrying model call")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		response, err := r.cfg.Provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}
		if !llm.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("model call failed after %d retries: %w", r.cfg.MaxRetries, lastErr)
}

// complete finishes a successful run: the agent is popped with the
// terminal tool's output and its checkpoint is removed.
func (r *Runner) complete(ctx context.Context, logger zerolog.Logger, taskID, agentID string, st *runState, call llm.ToolCall, result toolexecutor.Result) *RunResult {
	output := terminalOutput(call, result)

	if err := r.cfg.Registry.Pop(agentID, output); err != nil {
		logger.Error().Err(err).Msg("Failed to pop agent")
	}
	if r.cfg.Checkpoints != nil {
		if err := r.cfg.Checkpoints.Delete(ctx, taskID, agentID); err != nil {
			logger.Error().Err(err).Msg("Failed to delete checkpoint")
		}
	}

	logger.Info().
		Int("turns", st.turn+1).
		Int("toolCalls", st.toolCalls).
		Msg("Agent completed")

	return &RunResult{
		Status:    RunCompleted,
		Output:    output,
		AgentID:   agentID,
		Turns:     st.turn + 1,
		ToolCalls: st.toolCalls,
	}
}

// fail converts a fault into a terminal result whose output carries
// the last consolidated state, so compacted progress survives the
// discarded render history.
func (r *Runner) fail(logger zerolog.Logger, agentID string, st *runState, cause error) *RunResult {
	output := fmt.Sprintf("Agent run failed: %v", cause)
	if st.consolidated != "" {
		output += "\n\nLast consolidated state:\n" + st.consolidated
	}

	if err := r.cfg.Registry.Pop(agentID, output); err != nil {
		logger.Error().Err(err).Msg("Failed to pop agent")
	}

	logger.Error().Err(cause).
		Int("turn", st.turn).
		Int("toolCalls", st.toolCalls).
		Msg("Agent failed")

	return &RunResult{
		Status:    RunFailed,
		Output:    output,
		AgentID:   agentID,
		Turns:     st.turn,
		ToolCalls: st.toolCalls,
	}
}

// timeout ends a run that hit the turn ceiling. The agent is popped so
// the hierarchy does not retain a stale running entry; the checkpoint
// is kept so a rerun with a higher ceiling can resume.
func (r *Runner) timeout(logger zerolog.Logger, agentID string, st *runState) *RunResult {
	output := fmt.Sprintf("Turn ceiling of %d reached before completion.", r.cfg.MaxTurns)
	if st.consolidated != "" {
		output += "\n\nLast consolidated state:\n" + st.consolidated
	}

	if err := r.cfg.Registry.Pop(agentID, output); err != nil {
		logger.Error().Err(err).Msg("Failed to pop agent")
	}

	logger.Warn().
		Int("maxTurns", r.cfg.MaxTurns).
		Int("toolCalls", st.toolCalls).
		Msg("Agent timed out")

	return &RunResult{
		Status:    RunTimedOut,
		Output:    output,
		AgentID:   agentID,
		Turns:     st.turn,
		ToolCalls: st.toolCalls,
	}
}

// buildTools converts registered tool definitions to the model schema.
func (r *Runner) buildTools() []llm.Tool {
	defs := r.cfg.Tools.ListTools()
	tools := make([]llm.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, llm.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema(),
		})
	}
	return tools
}

// terminalOutput extracts the run's final output from the terminal
// tool invocation.
func terminalOutput(call llm.ToolCall, result toolexecutor.Result) string {
	if result.Success {
		if s, ok := result.Output.(string); ok && s != "" {
			return s
		}
	}
	if s, ok := call.Arguments["output"].(string); ok && s != "" {
		return s
	}
	return compactJSON(call.Arguments)
}

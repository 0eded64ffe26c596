package agent

import (
	"github.com/rs/zerolog"

	"github.com/vostra/endura/pkg/checkpoint"
	"github.com/vostra/endura/pkg/consolidate"
	"github.com/vostra/endura/pkg/hierarchy"
	"github.com/vostra/endura/pkg/llm"
	"github.com/vostra/endura/pkg/toolexecutor"
)

// RunStatus is the terminal outcome of one agent run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimedOut  RunStatus = "timed_out"
)

// RunParams identifies the agent to run and its task.
type RunParams struct {
	TaskID    string
	AgentName string
	UserInput string
}

// RunResult is what every run returns, regardless of outcome. Faults
// inside the loop never escape as errors; they surface here with
// status RunFailed and an output that preserves the last consolidated
// state.
type RunResult struct {
	Status    RunStatus
	Output    string
	AgentID   string
	Turns     int
	ToolCalls int
}

// Renderer builds the prompt context for one turn from the agent's
// identity and its current render history.
type Renderer interface {
	Render(taskID, agentID, agentName, userInput string, renderHistory []toolexecutor.ActionRecord) string
}

// Config holds everything a Runner needs.
type Config struct {
	Provider    llm.Provider
	Tools       *toolexecutor.Executor
	Registry    *hierarchy.Registry
	Engine      *consolidate.Engine
	Checkpoints checkpoint.Store
	Renderer    Renderer
	Logger      zerolog.Logger

	Model       string
	Temperature float64
	MaxTokens   int

	// MaxTurns is the turn ceiling; reaching it ends the run as
	// RunTimedOut.
	MaxTurns int

	// ConsolidationInterval is the number of executed tool calls
	// between consolidations.
	ConsolidationInterval int

	// TerminalTool names the tool whose invocation completes the run.
	TerminalTool string

	// MaxRetries bounds retries of a failed model call within one turn.
	MaxRetries int
}

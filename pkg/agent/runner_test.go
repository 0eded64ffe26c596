package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vostra/endura/pkg/checkpoint"
	"github.com/vostra/endura/pkg/consolidate"
	"github.com/vostra/endura/pkg/hierarchy"
	"github.com/vostra/endura/pkg/llm"
	"github.com/vostra/endura/pkg/toolexecutor"
)

// scriptedProvider answers consolidation calls with numbered text and
// agent calls with pre-scripted tool-call batches.
type scriptedProvider struct {
	mu             sync.Mutex
	batches        [][]llm.ToolCall
	agentErrs      []error
	consolidations int
	agentCalls     int
	agentPrompts   []string
}

func (p *scriptedProvider) Call(ctx context.Context, request llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if request.ToolChoice == llm.ToolChoiceNone {
		p.consolidations++
		return &llm.Response{Content: fmt.Sprintf("consolidated state %d", p.consolidations)}, nil
	}

	p.agentCalls++
	if len(request.Messages) > 0 {
		p.agentPrompts = append(p.agentPrompts, request.Messages[0].Content)
	}
	if len(p.agentErrs) > 0 {
		err := p.agentErrs[0]
		p.agentErrs = p.agentErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(p.batches) == 0 {
		return nil, fmt.Errorf("no scripted batch left")
	}
	batch := p.batches[0]
	p.batches = p.batches[1:]
	return &llm.Response{ToolCalls: batch}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

// memStore is an in-memory checkpoint store that remembers the last
// saved checkpoint even after deletion.
type memStore struct {
	mu        sync.Mutex
	data      map[string]checkpoint.Checkpoint
	lastSaved *checkpoint.Checkpoint
}

func newMemStore() *memStore {
	return &memStore{data: map[string]checkpoint.Checkpoint{}}
}

func (s *memStore) Save(ctx context.Context, taskID, agentID string, cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[taskID+"/"+agentID] = cp
	saved := cp
	s.lastSaved = &saved
	return nil
}

func (s *memStore) Load(ctx context.Context, taskID, agentID string) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.data[taskID+"/"+agentID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *memStore) Delete(ctx context.Context, taskID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, taskID+"/"+agentID)
	return nil
}

func (s *memStore) Close() error { return nil }

type testFixture struct {
	runner   *Runner
	provider *scriptedProvider
	registry *hierarchy.Registry
	store    *memStore
	workRuns *int
}

func setupTestRunner(t *testing.T, provider *scriptedProvider, mutate func(*Config)) *testFixture {
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

	registry, err := hierarchy.New(hierarchy.Config{
		TaskID: "task-1",
		Dir:    t.TempDir(),
		Logger: logger,
	})
	require.NoError(t, err)

	engine, err := consolidate.New(consolidate.Config{
		Provider: provider,
		Model:    "test-model",
		Logger:   logger,
	})
	require.NoError(t, err)

	workRuns := 0
	tools := toolexecutor.New(logger)
	require.NoError(t, tools.Register(&toolexecutor.ToolDefinition{
		Name:        "work",
		Description: "do one unit of work",
		Handler: func(ctx context.Context, args map[string]interface{}, execCtx *toolexecutor.ExecutionContext) (interface{}, error) {
			workRuns++
			return "ok", nil
		},
	}))
	require.NoError(t, tools.Register(TerminalTool("final_output")))

	store := newMemStore()

	cfg := Config{
		Provider:              provider,
		Tools:                 tools,
		Registry:              registry,
		Engine:                engine,
		Checkpoints:           store,
		Logger:                logger,
		Model:                 "test-model",
		MaxTurns:              10,
		ConsolidationInterval: 10,
		TerminalTool:          "final_output",
		MaxRetries:            1,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	runner, err := NewRunner(cfg)
	require.NoError(t, err)

	return &testFixture{
		runner:   runner,
		provider: provider,
		registry: registry,
		store:    store,
		workRuns: &workRuns,
	}
}

func workCall() llm.ToolCall {
	return llm.ToolCall{ID: "c1", Name: "work", Arguments: map[string]interface{}{}}
}

func finalCall(output string) llm.ToolCall {
	return llm.ToolCall{ID: "cf", Name: "final_output", Arguments: map[string]interface{}{"output": output}}
}

func TestRunCompletion(t *testing.T) {
	ctx := context.Background()

	t.Run("should complete when the terminal tool is called", func(t *testing.T) {
		provider := &scriptedProvider{batches: [][]llm.ToolCall{
			{workCall()},
			{finalCall("the answer")},
		}}
		f := setupTestRunner(t, provider, nil)

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		assert.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, "the answer", result.Output)
		assert.Equal(t, 2, result.Turns)
		assert.Equal(t, 2, result.ToolCalls)

		status, ok := f.registry.AgentStatus(result.AgentID)
		require.True(t, ok)
		assert.Equal(t, hierarchy.StatusCompleted, status.Status)
		assert.Equal(t, "the answer", status.FinalOutput)
		assert.True(t, f.registry.Snapshot().TaskCompleted)
	})

	t.Run("should publish an initial consolidation before the first turn", func(t *testing.T) {
		provider := &scriptedProvider{batches: [][]llm.ToolCall{
			{finalCall("done")},
		}}
		f := setupTestRunner(t, provider, nil)

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		assert.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, 1, provider.consolidations)
	})

	t.Run("should delete the checkpoint on completion", func(t *testing.T) {
		provider := &scriptedProvider{batches: [][]llm.ToolCall{
			{finalCall("done")},
		}}
		f := setupTestRunner(t, provider, nil)

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		cp, err := f.store.Load(ctx, "task-1", result.AgentID)
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("should not execute calls after the terminal tool in a batch", func(t *testing.T) {
		provider := &scriptedProvider{batches: [][]llm.ToolCall{
			{finalCall("early exit"), workCall()},
		}}
		f := setupTestRunner(t, provider, nil)

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		assert.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, 1, result.ToolCalls)
		assert.Equal(t, 0, *f.workRuns)
	})
}

func TestRunConsolidation(t *testing.T) {
	ctx := context.Background()

	t.Run("should reset render history at the interval while fact history keeps growing", func(t *testing.T) {
		provider := &scriptedProvider{batches: [][]llm.ToolCall{
			{workCall(), workCall(), workCall()},
			{finalCall("done")},
		}}
		f := setupTestRunner(t, provider, func(cfg *Config) {
			cfg.ConsolidationInterval = 3
		})

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)
		assert.Equal(t, RunCompleted, result.Status)

		// Initial consolidation plus the boundary at three tool calls.
		assert.Equal(t, 2, provider.consolidations)

		status, ok := f.registry.AgentStatus(result.AgentID)
		require.True(t, ok)
		assert.Equal(t, "consolidated state 2", status.LatestThinking)

		// The checkpoint written at the start of the second turn shows
		// the reset working set over the intact audit trail.
		require.NotNil(t, f.store.lastSaved)
		assert.Empty(t, f.store.lastSaved.RenderHistory)
		assert.Len(t, f.store.lastSaved.FactHistory, 3)
		assert.Equal(t, 3, f.store.lastSaved.LastBoundary)
	})

	t.Run("should not consolidate again when resumed exactly at a boundary", func(t *testing.T) {
		provider := &scriptedProvider{batches: [][]llm.ToolCall{
			{finalCall("done")},
		}}
		f := setupTestRunner(t, provider, func(cfg *Config) {
			cfg.ConsolidationInterval = 3
		})

		agentID := hierarchy.AgentID("main", "task-1", "solve it")
		require.NoError(t, f.store.Save(ctx, "task-1", agentID, checkpoint.Checkpoint{
			Turn:          1,
			ToolCalls:     3,
			LastBoundary:  3,
			RenderHistory: []toolexecutor.ActionRecord{},
			FactHistory:   make([]toolexecutor.ActionRecord, 3),
			Consolidated:  "prior state",
		}))

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		assert.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, 0, provider.consolidations)
		assert.Equal(t, 4, result.ToolCalls)
	})

	t.Run("should render the checkpointed consolidated state after a resume", func(t *testing.T) {
		provider := &scriptedProvider{batches: [][]llm.ToolCall{
			{finalCall("done")},
		}}
		f := setupTestRunner(t, provider, func(cfg *Config) {
			cfg.ConsolidationInterval = 3
		})

		agentID := hierarchy.AgentID("main", "task-1", "solve it")
		require.NoError(t, f.store.Save(ctx, "task-1", agentID, checkpoint.Checkpoint{
			Turn:          1,
			ToolCalls:     3,
			LastBoundary:  3,
			RenderHistory: []toolexecutor.ActionRecord{},
			FactHistory:   make([]toolexecutor.ActionRecord, 3),
			Consolidated:  "facts that must survive the reset",
		}))

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		assert.Equal(t, RunCompleted, result.Status)
		require.NotEmpty(t, provider.agentPrompts)
		assert.Contains(t, provider.agentPrompts[0], "facts that must survive the reset")
	})
}

func TestRunFaults(t *testing.T) {
	ctx := context.Background()

	t.Run("should fail on a text-only response under forced tool use", func(t *testing.T) {
		provider := &scriptedProvider{batches: [][]llm.ToolCall{
			{},
		}}
		f := setupTestRunner(t, provider, nil)

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		assert.Equal(t, RunFailed, result.Status)
		assert.Contains(t, result.Output, "no tool calls")
		assert.Contains(t, result.Output, "consolidated state 1")
		assert.Empty(t, f.registry.Stack())
	})

	t.Run("should fail on a non-retryable model error", func(t *testing.T) {
		provider := &scriptedProvider{agentErrs: []error{fmt.Errorf("invalid request")}}
		f := setupTestRunner(t, provider, nil)

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		assert.Equal(t, RunFailed, result.Status)
		assert.Contains(t, result.Output, "Agent run failed")
	})

	t.Run("should retry a transient model error and continue", func(t *testing.T) {
		provider := &scriptedProvider{
			agentErrs: []error{fmt.Errorf("429 rate limit exceeded")},
			batches: [][]llm.ToolCall{
				{finalCall("recovered")},
			},
		}
		f := setupTestRunner(t, provider, nil)

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		assert.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, "recovered", result.Output)
		assert.Equal(t, 2, provider.agentCalls)
	})
}

func TestRunTurnCeiling(t *testing.T) {
	ctx := context.Background()

	t.Run("should time out at the configured ceiling", func(t *testing.T) {
		provider := &scriptedProvider{batches: [][]llm.ToolCall{
			{workCall()},
			{workCall()},
		}}
		f := setupTestRunner(t, provider, func(cfg *Config) {
			cfg.MaxTurns = 2
		})

		result, err := f.runner.Run(ctx, RunParams{TaskID: "task-1", AgentName: "main", UserInput: "solve it"})
		require.NoError(t, err)

		assert.Equal(t, RunTimedOut, result.Status)
		assert.Equal(t, 2, result.Turns)
		assert.Contains(t, result.Output, "Turn ceiling of 2")
		assert.Empty(t, f.registry.Stack())
	})
}

func TestNewRunner(t *testing.T) {
	t.Run("should require core collaborators", func(t *testing.T) {
		_, err := NewRunner(Config{})
		assert.Error(t, err)
	})
}

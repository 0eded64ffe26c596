package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vostra/endura/internal/config"
	"github.com/vostra/endura/internal/logger"
	"github.com/vostra/endura/pkg/agent"
	"github.com/vostra/endura/pkg/checkpoint"
	"github.com/vostra/endura/pkg/consolidate"
	"github.com/vostra/endura/pkg/hierarchy"
	"github.com/vostra/endura/pkg/llm"
	"github.com/vostra/endura/pkg/toolexecutor"
)

var (
	runTaskID    string
	runAgentName string
)

var runCmd = &cobra.Command{
	Use:   "run [input]",
	Short: "Run an agent on a task",
	Long: `Run a single agent on a task until it finishes, faults, or hits the
turn ceiling. Interrupted runs resume from their last checkpoint when
started again with the same task and input.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentCmd,
}

func init() {
	runCmd.Flags().StringVar(&runTaskID, "task", "", "task id (required)")
	runCmd.Flags().StringVar(&runAgentName, "agent", "main", "agent name")
	runCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(runCmd)
}

func runAgentCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logger.Config{
		Level:     logLevel,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	}
	lg, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	provider, err := llm.NewProvider(cfg.Model.Provider, cfg.Model.APIKey)
	if err != nil {
		return err
	}

	registry, err := hierarchy.New(hierarchy.Config{
		TaskID: runTaskID,
		Dir:    filepath.Join(cfg.DataDir, "tasks"),
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create hierarchy registry: %w", err)
	}

	checkpoints, err := checkpoint.NewSQLiteStore(filepath.Join(cfg.DataDir, "checkpoints.db"), zl)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer checkpoints.Close()

	engine, err := consolidate.New(consolidate.Config{
		Provider:    provider,
		Model:       cfg.Model.Model,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create consolidation engine: %w", err)
	}

	tools := toolexecutor.New(zl)
	if err := tools.Register(agent.TerminalTool(cfg.Agent.TerminalTool)); err != nil {
		return fmt.Errorf("failed to register terminal tool: %w", err)
	}

	runner, err := agent.NewRunner(agent.Config{
		Provider:              provider,
		Tools:                 tools,
		Registry:              registry,
		Engine:                engine,
		Checkpoints:           checkpoints,
		Logger:                zl,
		Model:                 cfg.Model.Model,
		Temperature:           cfg.Model.Temperature,
		MaxTokens:             cfg.Model.MaxTokens,
		MaxTurns:              cfg.Agent.MaxTurns,
		ConsolidationInterval: cfg.Agent.ConsolidationInterval,
		TerminalTool:          cfg.Agent.TerminalTool,
		MaxRetries:            cfg.Agent.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	result, err := runner.Run(cmd.Context(), agent.RunParams{
		TaskID:    runTaskID,
		AgentName: runAgentName,
		UserInput: args[0],
	})
	if err != nil {
		return err
	}

	fmt.Printf("Status: %s\n", result.Status)
	fmt.Printf("Agent: %s\n", result.AgentID)
	fmt.Printf("Turns: %d, tool calls: %d\n", result.Turns, result.ToolCalls)
	fmt.Printf("\n%s\n", result.Output)

	if result.Status != agent.RunCompleted {
		return fmt.Errorf("run ended with status %s", result.Status)
	}
	return nil
}

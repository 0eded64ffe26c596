package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vostra/endura/internal/config"
	"github.com/vostra/endura/pkg/hierarchy"
)

var statusTaskID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task status",
	Long:  `Show the agent hierarchy and per-agent status of a task.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusTaskID, "task", "", "task id (required)")
	statusCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	registry, err := hierarchy.New(hierarchy.Config{
		TaskID: statusTaskID,
		Dir:    filepath.Join(cfg.DataDir, "tasks"),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return fmt.Errorf("failed to open hierarchy registry: %w", err)
	}

	snap := registry.Snapshot()

	if len(snap.AgentsStatus) == 0 {
		fmt.Println("No agents recorded for this task.")
		return nil
	}

	if snap.TaskCompleted {
		fmt.Println("Task: completed")
	} else {
		fmt.Println("Task: in progress")
	}

	fmt.Printf("Active agents on stack: %d\n\n", len(snap.Stack))

	for id, status := range snap.AgentsStatus {
		fmt.Printf("%s [%s] level=%d\n", id, status.Status, status.Level)
		if status.ParentID != nil {
			fmt.Printf("  parent: %s\n", *status.ParentID)
		}
		fmt.Printf("  started: %s\n", status.StartTime.Format(time.RFC3339))
		if status.LatestThinking != "" {
			fmt.Printf("  thinking updated: %s\n", formatThinkingAge(status.ThinkingUpdatedAt))
		}
		if status.FinalOutput != "" {
			fmt.Printf("  output: %.120s\n", status.FinalOutput)
		}
		fmt.Println()
	}

	return nil
}

func formatThinkingAge(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return fmt.Sprintf("%s ago", time.Since(*t).Round(time.Second))
}

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vostra/endura/internal/config"
	"github.com/vostra/endura/internal/logger"
	"github.com/vostra/endura/pkg/hierarchy"
)

var watchTaskID string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a task's progress live",
	Long: `Watch the shared context document of a running task and print agent
status changes as they happen. Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchTaskID, "task", "", "task id (required)")
	watchCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     logLevel,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	registry, err := hierarchy.New(hierarchy.Config{
		TaskID: watchTaskID,
		Dir:    filepath.Join(cfg.DataDir, "tasks"),
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to open hierarchy registry: %w", err)
	}

	printSnapshot(registry.Snapshot())

	watcher, err := hierarchy.NewContextWatcher(registry, zl, printSnapshot)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	return nil
}

func printSnapshot(snap *hierarchy.Snapshot) {
	fmt.Printf("--- task %s", snap.TaskID)
	if snap.TaskCompleted {
		fmt.Print(" (completed)")
	}
	fmt.Printf(": %d agent(s), %d on stack\n", len(snap.AgentsStatus), len(snap.Stack))

	for id, status := range snap.AgentsStatus {
		fmt.Printf("  %s [%s] level=%d\n", id, status.Status, status.Level)
	}
}

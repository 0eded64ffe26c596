package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vostra/endura/internal/config"
	"github.com/vostra/endura/internal/logger"
	"github.com/vostra/endura/pkg/hierarchy"
)

var sweepWatch bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired task documents",
	Long: `Remove the stack and shared context documents of tasks that completed
longer than the configured retention window ago. With --watch, keep
running and sweep on the configured cron schedule.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepWatch, "watch", false, "keep running and sweep on the configured schedule")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
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

	sweeper := hierarchy.NewSweeper(hierarchy.SweeperConfig{
		Dir:       filepath.Join(cfg.DataDir, "tasks"),
		Retention: time.Duration(cfg.Sweep.RetentionDays) * 24 * time.Hour,
		Logger:    lg.GetZerolog(),
	})

	removed, err := sweeper.Sweep()
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d expired task(s)\n", removed)

	if !sweepWatch {
		return nil
	}

	if err := sweeper.Start(cfg.Sweep.Schedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	return nil
}

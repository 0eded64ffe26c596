package hierarchy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const contextSuffix = "_share_context.json"

// Sweeper removes the document pairs of tasks that completed longer
// than the retention window ago. Active and recently finished tasks
// are never touched.
type Sweeper struct {
	dir       string
	retention time.Duration
	logger    zerolog.Logger
	cron      *cron.Cron
}

// SweeperConfig holds sweeper configuration.
type SweeperConfig struct {
	Dir       string
	Retention time.Duration
	Logger    zerolog.Logger
}

// NewSweeper creates a sweeper over the given task document directory.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		dir:       cfg.Dir,
		retention: cfg.Retention,
		logger:    cfg.Logger,
	}
}

// Start schedules periodic sweeps with the given cron expression.
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}

	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Msg("Retention sweeper started")
	return nil
}

// Stop stops scheduled sweeps.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep scans the task directory once and removes expired tasks.
// Returns the number of tasks removed.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read task directory: %w", err)
	}

	cutoff := time.Now().Add(-s.retention).UnixMilli()
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), contextSuffix) {
			continue
		}

		contextPath := filepath.Join(s.dir, entry.Name())
		if !s.expired(contextPath, cutoff) {
			continue
		}

		key := strings.TrimSuffix(entry.Name(), contextSuffix)
		stackPath := filepath.Join(s.dir, key+"_stack.json")

		if err := os.Remove(contextPath); err != nil {
			s.logger.Error().Err(err).Str("file", entry.Name()).Msg("Failed to remove context document")
			continue
		}
		if err := os.Remove(stackPath); err != nil && !os.IsNotExist(err) {
			s.logger.Error().Err(err).Str("file", filepath.Base(stackPath)).Msg("Failed to remove stack document")
		}

		removed++
		s.logger.Info().Str("task", key).Msg("Expired task removed")
	}

	return removed, nil
}

// expired reports whether the context document describes a task that
// completed before the cutoff. Unreadable documents are left alone.
func (s *Sweeper) expired(path string, cutoff int64) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var doc contextDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}

	if !doc.TaskCompleted || doc.CompletedAt == nil {
		return false
	}
	return *doc.CompletedAt < cutoff
}

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/vostra/endura/pkg/toolexecutor"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if necessary) the checkpoint database
// at the given path.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug().Str("path", path).Msg("Checkpoint store opened")
	return store, nil
}

// init creates the database schema.
func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		tool_calls INTEGER NOT NULL,
		last_boundary INTEGER NOT NULL,
		render_history TEXT NOT NULL,
		fact_history TEXT NOT NULL,
		consolidated TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (task_id, agent_id)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts the checkpoint row for (taskID, agentID).
func (s *SQLiteStore) Save(ctx context.Context, taskID, agentID string, cp Checkpoint) error {
	renderJSON, err := json.Marshal(cp.RenderHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal render history: %w", err)
	}
	factJSON, err := json.Marshal(cp.FactHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal fact history: %w", err)
	}

	rowID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate checkpoint id: %w", err)
	}

	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, task_id, agent_id, turn, tool_calls, last_boundary, render_history, fact_history, consolidated, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, agent_id) DO UPDATE SET
			turn = excluded.turn,
			tool_calls = excluded.tool_calls,
			last_boundary = excluded.last_boundary,
			render_history = excluded.render_history,
			fact_history = excluded.fact_history,
			consolidated = excluded.consolidated,
			updated_at = excluded.updated_at
	`, rowID, taskID, agentID, cp.Turn, cp.ToolCalls, cp.LastBoundary,
		string(renderJSON), string(factJSON), cp.Consolidated, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug().
		Str("taskId", taskID).
		Str("agentId", agentID).
		Int("turn", cp.Turn).
		Msg("Checkpoint saved")

	return nil
}

// Load returns the checkpoint for (taskID, agentID), or nil when no
// checkpoint has been saved yet.
func (s *SQLiteStore) Load(ctx context.Context, taskID, agentID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT turn, tool_calls, last_boundary, render_history, fact_history, consolidated, updated_at
		FROM checkpoints WHERE task_id = ? AND agent_id = ?
	`, taskID, agentID)

	var cp Checkpoint
	var renderJSON, factJSON string

	err := row.Scan(&cp.Turn, &cp.ToolCalls, &cp.LastBoundary, &renderJSON, &factJSON, &cp.Consolidated, &cp.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(renderJSON), &cp.RenderHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal render history: %w", err)
	}
	if err := json.Unmarshal([]byte(factJSON), &cp.FactHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fact history: %w", err)
	}
	if cp.RenderHistory == nil {
		cp.RenderHistory = []toolexecutor.ActionRecord{}
	}
	if cp.FactHistory == nil {
		cp.FactHistory = []toolexecutor.ActionRecord{}
	}

	return &cp, nil
}

// Delete removes the checkpoint for (taskID, agentID).
func (s *SQLiteStore) Delete(ctx context.Context, taskID, agentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE task_id = ? AND agent_id = ?`, taskID, agentID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

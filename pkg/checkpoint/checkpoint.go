// Package checkpoint persists per-agent execution state so an
// interrupted run can resume at its last completed turn.
package checkpoint

import (
	"context"
	"time"

	"github.com/vostra/endura/pkg/toolexecutor"
)

// Checkpoint captures everything the execution loop needs to resume:
// the turn counter, the running tool-call count with its last
// consolidated boundary, both histories, and the latest consolidated
// state.
type Checkpoint struct {
	Turn          int                         `json:"turn"`
	ToolCalls     int                         `json:"tool_calls"`
	LastBoundary  int                         `json:"last_boundary"`
	RenderHistory []toolexecutor.ActionRecord `json:"render_history"`
	FactHistory   []toolexecutor.ActionRecord `json:"fact_history"`
	Consolidated  string                      `json:"consolidated"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

// Store persists checkpoints keyed by (task, agent).
type Store interface {
	// Save upserts the checkpoint for an agent within a task.
	Save(ctx context.Context, taskID, agentID string, cp Checkpoint) error

	// Load returns the checkpoint for an agent, or nil if none exists.
	Load(ctx context.Context, taskID, agentID string) (*Checkpoint, error)

	// Delete removes the checkpoint for an agent.
	Delete(ctx context.Context, taskID, agentID string) error

	// Close releases store resources.
	Close() error
}

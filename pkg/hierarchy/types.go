package hierarchy

import "time"

// Status is the lifecycle state of an agent.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// StackEntry is one frame of the active agent call stack. Entries
// exist only while the agent is running; the permanent record of the
// agent is its Edge.
type StackEntry struct {
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	ParentID  *string   `json:"parent_id"`
	Level     int       `json:"level"`
	UserInput string    `json:"user_input"`
	StartTime time.Time `json:"start_time"`
}

// Edge is the permanent ancestry record for an agent. Edges are never
// removed, even after the agent leaves the stack.
type Edge struct {
	Parent   *string  `json:"parent"`
	Children []string `json:"children"`
	Level    int      `json:"level"`
}

// AgentStatus is the mutable per-agent status published in the shared
// context document. LatestThinking holds only the most recent
// consolidation output, never a history.
type AgentStatus struct {
	AgentName         string     `json:"agent_name"`
	Status            Status     `json:"status"`
	InitialInput      string     `json:"initial_input"`
	StartTime         time.Time  `json:"start_time"`
	ParentID          *string    `json:"parent_id"`
	Level             int        `json:"level"`
	LatestThinking    string     `json:"latest_thinking"`
	ThinkingUpdatedAt *time.Time `json:"thinking_updated_at,omitempty"`
	FinalOutput       string     `json:"final_output,omitempty"`
}

// stackDocument is the persisted form of the call stack.
type stackDocument struct {
	Version     int          `json:"version"`
	Entries     []StackEntry `json:"entries"`
	LastUpdated int64        `json:"last_updated"`
}

// contextDocument is the persisted shared context: the full ancestry
// graph plus per-agent status.
type contextDocument struct {
	Version       int                     `json:"version"`
	Hierarchy     map[string]*Edge        `json:"hierarchy"`
	AgentsStatus  map[string]*AgentStatus `json:"agents_status"`
	TaskCompleted bool                    `json:"task_completed"`
	CompletedAt   *int64                  `json:"completed_at,omitempty"`
	LastUpdated   int64                   `json:"last_updated"`
}

func newStackDocument() *stackDocument {
	return &stackDocument{Version: 1, Entries: []StackEntry{}}
}

func newContextDocument() *contextDocument {
	return &contextDocument{
		Version:      1,
		Hierarchy:    make(map[string]*Edge),
		AgentsStatus: make(map[string]*AgentStatus),
	}
}

// Snapshot is a point-in-time, caller-owned copy of the registry
// state. Mutating a snapshot has no effect on the registry.
type Snapshot struct {
	TaskID        string                 `json:"task_id"`
	Stack         []StackEntry           `json:"stack"`
	Hierarchy     map[string]Edge        `json:"hierarchy"`
	AgentsStatus  map[string]AgentStatus `json:"agents_status"`
	TaskCompleted bool                   `json:"task_completed"`
}

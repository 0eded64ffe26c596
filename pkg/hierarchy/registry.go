// Package hierarchy tracks the agent call stack and the shared
// cross-agent context for one task in durable storage. All mutation
// goes through four serialized operations (Push, Pop, UpdateThinking
// and the completion check Pop triggers); the backing documents are
// never exposed for direct modification.
package hierarchy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// agentIDHashLen is the number of digest hex characters kept in an
// agent id.
const agentIDHashLen = 12

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Registry is the durable store of one task's agent hierarchy. It
// persists two documents: the transient call stack and the permanent
// shared context (ancestry graph + per-agent status). Every mutating
// operation is a single critical section that loads, modifies, and
// rewrites the documents, so concurrent agents never observe a torn
// state.
type Registry struct {
	taskID      string
	stackPath   string
	contextPath string
	logger      zerolog.Logger
	mu          sync.Mutex
}

// Config holds registry configuration.
type Config struct {
	TaskID string
	Dir    string // document directory, default ~/.endura/tasks
	Logger zerolog.Logger
}

// New creates a registry for a task. Repeated calls with the same task
// id and directory resolve to the same document pair, so a restarted
// run resumes the existing hierarchy.
func New(cfg Config) (*Registry, error) {
	if cfg.TaskID == "" {
		return nil, fmt.Errorf("task id is required")
	}

	dir := cfg.Dir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".endura", "tasks")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create task directory: %w", err)
	}

	key := taskKey(cfg.TaskID)

	return &Registry{
		taskID:      cfg.TaskID,
		stackPath:   filepath.Join(dir, key+"_stack.json"),
		contextPath: filepath.Join(dir, key+"_share_context.json"),
		logger:      cfg.Logger,
	}, nil
}

// taskKey derives a stable file name prefix from a task id. The digest
// prefix keeps distinct tasks separate even when their base names
// collide.
func taskKey(taskID string) string {
	sum := sha256.Sum256([]byte(taskID))
	base := unsafePathChars.ReplaceAllString(filepath.Base(taskID), "_")
	return hex.EncodeToString(sum[:])[:8] + "_" + base
}

// AgentID computes the deterministic agent id for (name, task, input).
// Identical inputs always produce the same id; two concurrent pushes
// of the same tuple intentionally collide onto one hierarchy node.
func AgentID(agentName, taskID, userInput string) string {
	sum := sha256.Sum256([]byte(agentName + "|" + taskID + "|" + userInput))
	return agentName + "-" + hex.EncodeToString(sum[:])[:agentIDHashLen]
}

// TaskID returns the task this registry is scoped to.
func (r *Registry) TaskID() string {
	return r.taskID
}

// ContextPath returns the location of the shared context document.
// Observers (the context watcher, the CLI) read from here; they must
// never write.
func (r *Registry) ContextPath() string {
	return r.contextPath
}

// Push registers a new agent. The parent is the current stack top (nil
// for a root agent), the level is parent level + 1. The ancestry edge
// is created or reused, the parent's children set is updated
// idempotently, and the agent status is set to running. Returns the
// deterministic agent id.
func (r *Registry) Push(agentName, userInput string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agentID := AgentID(agentName, r.taskID, userInput)

	stack := r.loadStack()
	doc := r.loadContext()

	var parentID *string
	level := 0
	if len(stack.Entries) > 0 {
		top := stack.Entries[len(stack.Entries)-1]
		parentID = &top.AgentID
		level = top.Level + 1
	}

	now := time.Now()
	stack.Entries = append(stack.Entries, StackEntry{
		AgentID:   agentID,
		AgentName: agentName,
		ParentID:  parentID,
		Level:     level,
		UserInput: userInput,
		StartTime: now,
	})

	if _, exists := doc.Hierarchy[agentID]; !exists {
		doc.Hierarchy[agentID] = &Edge{
			Parent:   parentID,
			Children: []string{},
			Level:    level,
		}
	}

	if parentID != nil {
		if parent, ok := doc.Hierarchy[*parentID]; ok && !containsString(parent.Children, agentID) {
			parent.Children = append(parent.Children, agentID)
		}
	}

	status := &AgentStatus{
		AgentName:    agentName,
		Status:       StatusRunning,
		InitialInput: userInput,
		StartTime:    now,
		ParentID:     parentID,
		Level:        level,
	}
	// A re-push of a known agent (a resumed run) must not wipe its
	// published consolidated state.
	if prev, ok := doc.AgentsStatus[agentID]; ok {
		status.LatestThinking = prev.LatestThinking
		status.ThinkingUpdatedAt = prev.ThinkingUpdatedAt
	}
	doc.AgentsStatus[agentID] = status
	doc.TaskCompleted = false
	doc.CompletedAt = nil

	if err := r.saveStack(stack); err != nil {
		return "", err
	}
	if err := r.saveContext(doc); err != nil {
		return "", err
	}

	r.logger.Info().
		Str("agentId", agentID).
		Int("level", level).
		Msg("Agent pushed")

	return agentID, nil
}

// Pop removes every stack entry matching agentID, marks the agent
// completed with its final output, and runs the task completion check.
// Popping an unknown id updates no status but still runs the check.
// Removal is by identity rather than strict LIFO, so a subtree that
// finishes before a sibling above it on the stack does not fault.
func (r *Registry) Pop(agentID, finalOutput string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stack := r.loadStack()
	remaining := stack.Entries[:0]
	for _, entry := range stack.Entries {
		if entry.AgentID != agentID {
			remaining = append(remaining, entry)
		}
	}
	stack.Entries = remaining
	if err := r.saveStack(stack); err != nil {
		return err
	}

	doc := r.loadContext()
	if status, ok := doc.AgentsStatus[agentID]; ok {
		status.Status = StatusCompleted
		status.FinalOutput = finalOutput
	}

	// Completion check: the task is complete once every known agent is.
	allDone := len(doc.AgentsStatus) > 0
	for _, status := range doc.AgentsStatus {
		if status.Status != StatusCompleted {
			allDone = false
			break
		}
	}
	if allDone && !doc.TaskCompleted {
		doc.TaskCompleted = true
		completedAt := time.Now().UnixMilli()
		doc.CompletedAt = &completedAt
		r.logger.Info().Str("taskId", r.taskID).Msg("Task completed")
	}

	if err := r.saveContext(doc); err != nil {
		return err
	}

	r.logger.Info().Str("agentId", agentID).Msg("Agent popped")
	return nil
}

// UpdateThinking overwrites the agent's latest consolidated state.
// Only the newest value is retained. Unknown ids are ignored.
func (r *Registry) UpdateThinking(agentID, thinking string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.loadContext()
	status, ok := doc.AgentsStatus[agentID]
	if !ok {
		r.logger.Debug().Str("agentId", agentID).Msg("Thinking update for unknown agent ignored")
		return nil
	}

	now := time.Now()
	status.LatestThinking = thinking
	status.ThinkingUpdatedAt = &now

	return r.saveContext(doc)
}

// Stack returns a copy of the current call stack.
func (r *Registry) Stack() []StackEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	stack := r.loadStack()
	entries := make([]StackEntry, len(stack.Entries))
	copy(entries, stack.Entries)
	return entries
}

// Edge returns the permanent ancestry record for an agent, if any.
func (r *Registry) Edge(agentID string) (Edge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.loadContext()
	edge, ok := doc.Hierarchy[agentID]
	if !ok {
		return Edge{}, false
	}

	children := make([]string, len(edge.Children))
	copy(children, edge.Children)
	return Edge{Parent: edge.Parent, Children: children, Level: edge.Level}, true
}

// AgentStatus returns the current status record for an agent, if any.
func (r *Registry) AgentStatus(agentID string) (AgentStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.loadContext()
	status, ok := doc.AgentsStatus[agentID]
	if !ok {
		return AgentStatus{}, false
	}
	return *status, true
}

// Snapshot returns a caller-owned copy of the full registry state.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	stack := r.loadStack()
	doc := r.loadContext()

	snap := &Snapshot{
		TaskID:        r.taskID,
		Stack:         make([]StackEntry, len(stack.Entries)),
		Hierarchy:     make(map[string]Edge, len(doc.Hierarchy)),
		AgentsStatus:  make(map[string]AgentStatus, len(doc.AgentsStatus)),
		TaskCompleted: doc.TaskCompleted,
	}
	copy(snap.Stack, stack.Entries)
	for id, edge := range doc.Hierarchy {
		children := make([]string, len(edge.Children))
		copy(children, edge.Children)
		snap.Hierarchy[id] = Edge{Parent: edge.Parent, Children: children, Level: edge.Level}
	}
	for id, status := range doc.AgentsStatus {
		snap.AgentsStatus[id] = *status
	}

	return snap
}

// loadStack reads the stack document, tolerating absence and
// corruption by starting empty.
func (r *Registry) loadStack() *stackDocument {
	data, err := os.ReadFile(r.stackPath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Error().Err(err).Msg("Failed to read stack document")
		}
		return newStackDocument()
	}

	var doc stackDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Error().Err(err).Msg("Failed to parse stack document, starting empty")
		return newStackDocument()
	}
	if doc.Entries == nil {
		doc.Entries = []StackEntry{}
	}
	return &doc
}

// loadContext reads the shared context document, tolerating absence
// and corruption by starting empty.
func (r *Registry) loadContext() *contextDocument {
	data, err := os.ReadFile(r.contextPath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Error().Err(err).Msg("Failed to read context document")
		}
		return newContextDocument()
	}

	var doc contextDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Error().Err(err).Msg("Failed to parse context document, starting empty")
		return newContextDocument()
	}
	if doc.Hierarchy == nil {
		doc.Hierarchy = make(map[string]*Edge)
	}
	if doc.AgentsStatus == nil {
		doc.AgentsStatus = make(map[string]*AgentStatus)
	}
	return &doc
}

func (r *Registry) saveStack(doc *stackDocument) error {
	doc.LastUpdated = time.Now().UnixMilli()
	return writeAtomic(r.stackPath, doc)
}

func (r *Registry) saveContext(doc *contextDocument) error {
	doc.LastUpdated = time.Now().UnixMilli()
	return writeAtomic(r.contextPath, doc)
}

// writeAtomic persists a document via temp file + rename so readers
// never observe a partial write.
func writeAtomic(path string, doc interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp document: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace document: %w", err)
	}

	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

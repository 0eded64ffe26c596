package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vostra/endura/pkg/hierarchy"
	"github.com/vostra/endura/pkg/toolexecutor"
)

// ContextBuilder is the default Renderer. It combines the agent's
// identity, its latest consolidated state and the shared hierarchy
// context (read from the registry) with the render history of the
// current batch.
type ContextBuilder struct {
	registry *hierarchy.Registry
}

// NewContextBuilder creates a ContextBuilder backed by the registry.
func NewContextBuilder(registry *hierarchy.Registry) *ContextBuilder {
	return &ContextBuilder{registry: registry}
}

// Render builds the prompt context for one turn.
func (b *ContextBuilder) Render(taskID, agentID, agentName, userInput string, renderHistory []toolexecutor.ActionRecord) string {
	var sb strings.Builder

	sb.WriteString("<task>\n")
	sb.WriteString(fmt.Sprintf("Task ID: %s\nAgent: %s (%s)\n", taskID, agentName, agentID))
	sb.WriteString("</task>\n\n")

	sb.WriteString("<objective>\n")
	sb.WriteString(userInput)
	sb.WriteString("\n</objective>\n")

	snap := b.registry.Snapshot()

	if status, ok := snap.AgentsStatus[agentID]; ok && status.LatestThinking != "" {
		sb.WriteString("\n<consolidated_state>\n")
		sb.WriteString(status.LatestThinking)
		sb.WriteString("\n</consolidated_state>\n")
	}

	if overview := buildAgentOverview(snap, agentID); overview != "" {
		sb.WriteString("\n<other_agents>\n")
		sb.WriteString(overview)
		sb.WriteString("</other_agents>\n")
	}

	if len(renderHistory) > 0 {
		sb.WriteString("\n<recent_actions>\n")
		for i, record := range renderHistory {
			sb.WriteString(fmt.Sprintf("%d. %s(%s) -> %s\n",
				i+1, record.ToolName, compactJSON(record.Arguments), compactJSON(record.Result)))
		}
		sb.WriteString("</recent_actions>\n")
	}

	return sb.String()
}

// buildAgentOverview summarizes the other agents known to the task so
// a parent can see its children's progress.
func buildAgentOverview(snap *hierarchy.Snapshot, selfID string) string {
	var sb strings.Builder
	for id, status := range snap.AgentsStatus {
		if id == selfID {
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s [%s]", id, status.Status))
		if status.LatestThinking != "" {
			sb.WriteString(": " + firstLine(status.LatestThinking))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Package consolidate compresses an agent's working context into a
// bounded consolidated state so long runs never outgrow the model's
// context window.
package consolidate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vostra/endura/pkg/llm"
)

const systemPrompt = `You are consolidating the working state of an autonomous agent so it can continue a long-running task with a fresh context. Produce a single document with exactly these four sections:

## Task Progress
A checklist of the task broken into concrete items. Mark each item as one of: [done], [ongoing], [waiting]. Include items you expect to do but have not started.

## File Registry
Every file path created, modified, or found important so far, each with a one-line note on what it contains and why it matters.

## Key Information
Facts, decisions, constraints, identifiers, and results that must survive context loss. Anything not written here will be forgotten. Be exhaustive about values that cannot be re-derived (IDs, URLs, exact error messages, chosen parameters).

## Next Steps
An ordered plan of the immediate next actions, specific enough that an agent seeing only this document could execute them.

Write only the document. Do not call tools. Do not add commentary before or after the sections.`

// Engine produces consolidated state by calling the model once with
// the current working context.
type Engine struct {
	provider    llm.Provider
	model       string
	temperature float64
	maxTokens   int
	logger      zerolog.Logger
}

// Config holds consolidation engine configuration.
type Config struct {
	Provider    llm.Provider
	Model       string
	Temperature float64
	MaxTokens   int
	Logger      zerolog.Logger
}

// Request describes one consolidation. PromptContext is the full
// rendered working context of the agent; Tools lets the summary
// reference the agent's capabilities when planning next steps.
type Request struct {
	PromptContext string
	Tools         []llm.Tool
}

// New creates a consolidation engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return &Engine{
		provider:    cfg.Provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		logger:      cfg.Logger,
	}, nil
}

// Consolidate produces the consolidated state document. The model is
// called without tools so the reply is always plain text.
func (e *Engine) Consolidate(ctx context.Context, req Request) (string, error) {
	prompt := req.PromptContext
	if len(req.Tools) > 0 {
		var sb strings.Builder
		sb.WriteString(prompt)
		sb.WriteString("\n\n<available_tools>\n")
		for _, tool := range req.Tools {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", tool.Name, tool.Description))
		}
		sb.WriteString("</available_tools>")
		prompt = sb.String()
	}

	response, err := e.provider.Call(ctx, llm.Request{
		Model:        e.model,
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
		ToolChoice:  llm.ToolChoiceNone,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("consolidation call failed: %w", err)
	}

	consolidated := strings.TrimSpace(response.Content)
	if consolidated == "" {
		return "", fmt.Errorf("consolidation produced empty output")
	}

	e.logger.Debug().
		Int("inputChars", len(req.PromptContext)).
		Int("outputChars", len(consolidated)).
		Msg("Context consolidated")

	return consolidated, nil
}

package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Endura configuration
type Config struct {
	// Model
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Agent
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Sweep
	Sweep SweepConfig `json:"sweep" mapstructure:"sweep"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelConfig holds model provider configuration
type ModelConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig holds execution loop configuration
type AgentConfig struct {
	MaxTurns              int    `json:"max_turns" mapstructure:"max_turns"`
	ConsolidationInterval int    `json:"consolidation_interval" mapstructure:"consolidation_interval"`
	TerminalTool          string `json:"terminal_tool" mapstructure:"terminal_tool"`
	MaxRetries            int    `json:"max_retries" mapstructure:"max_retries"`
}

// SweepConfig holds retention sweeper configuration
type SweepConfig struct {
	Schedule      string `json:"schedule" mapstructure:"schedule"` // cron expression
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Agent: AgentConfig{
			MaxTurns:              50,
			ConsolidationInterval: 10,
			TerminalTool:          "final_output",
			MaxRetries:            3,
		},
		Sweep: SweepConfig{
			Schedule:      "0 3 * * *",
			RetentionDays: 14,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Provider != "anthropic" && c.Model.Provider != "openai" {
		return fmt.Errorf("invalid provider %s (must be: anthropic, openai)", c.Model.Provider)
	}
	if c.Model.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model api_key is required")
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent max_turns must be positive")
	}
	if c.Agent.ConsolidationInterval <= 0 {
		return fmt.Errorf("agent consolidation_interval must be positive")
	}
	if c.Agent.TerminalTool == "" {
		return fmt.Errorf("agent terminal_tool is required")
	}
	if c.Sweep.RetentionDays <= 0 {
		return fmt.Errorf("sweep retention_days must be positive")
	}
	return nil
}

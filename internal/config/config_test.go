package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	t.Run("should have sane agent defaults", func(t *testing.T) {
		cfg := DefaultConfig()

		assert.Equal(t, 50, cfg.Agent.MaxTurns)
		assert.Equal(t, 10, cfg.Agent.ConsolidationInterval)
		assert.Equal(t, "final_output", cfg.Agent.TerminalTool)
	})
}

func TestValidate(t *testing.T) {
	t.Run("should accept a valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("should reject an unknown provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.Model.Provider = "watson"
		assert.Error(t, cfg.Validate())
	})

	t.Run("should require an api key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Model.APIKey = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("should require a positive consolidation interval", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agent.ConsolidationInterval = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("should require a terminal tool name", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agent.TerminalTool = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestLoader(t *testing.T) {
	t.Run("should return defaults when the file is missing", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
		require.NoError(t, err)

		assert.Equal(t, "anthropic", cfg.Model.Provider)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
	})

	t.Run("should load values from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "endura.json")
		content := `{"model": {"provider": "openai", "model": "gpt-4o", "api_key": "sk-x"}, "agent": {"max_turns": 5}}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "openai", cfg.Model.Provider)
		assert.Equal(t, "gpt-4o", cfg.Model.Model)
		assert.Equal(t, 5, cfg.Agent.MaxTurns)
		// Unset fields keep their defaults
		assert.Equal(t, 10, cfg.Agent.ConsolidationInterval)
	})

	t.Run("should prefer the api key from the environment", func(t *testing.T) {
		t.Setenv("ENDURA_API_KEY", "sk-from-env")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
		require.NoError(t, err)

		assert.Equal(t, "sk-from-env", cfg.Model.APIKey)
	})

	t.Run("should round trip through save", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "endura.json")
		loader := NewLoader(path)

		cfg := validConfig()
		cfg.Agent.MaxTurns = 77
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 77, loaded.Agent.MaxTurns)
	})
}

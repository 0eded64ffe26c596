package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vostra/endura/pkg/toolexecutor"
)

func setupTestStore(t *testing.T) (*SQLiteStore, func()) {
	tmpDir, err := os.MkdirTemp("", "checkpoint-test-*")
	require.NoError(t, err)

	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
	store, err := NewSQLiteStore(filepath.Join(tmpDir, "checkpoints.db"), logger)
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

func sampleCheckpoint() Checkpoint {
	return Checkpoint{
		Turn:         3,
		ToolCalls:    12,
		LastBoundary: 10,
		RenderHistory: []toolexecutor.ActionRecord{
			{ToolName: "search", Arguments: map[string]interface{}{"q": "latest"}, Result: "hit"},
		},
		FactHistory: []toolexecutor.ActionRecord{
			{ToolName: "search", Arguments: map[string]interface{}{"q": "first"}, Result: "miss"},
			{ToolName: "search", Arguments: map[string]interface{}{"q": "latest"}, Result: "hit"},
		},
		Consolidated: "## Task Progress\n- [ongoing] searching",
		UpdatedAt:    time.Now(),
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should return nil when no checkpoint exists", func(t *testing.T) {
		store, cleanup := setupTestStore(t)
		defer cleanup()

		cp, err := store.Load(ctx, "t1", "agent-a")
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("should round trip a checkpoint", func(t *testing.T) {
		store, cleanup := setupTestStore(t)
		defer cleanup()

		saved := sampleCheckpoint()
		require.NoError(t, store.Save(ctx, "t1", "agent-a", saved))

		loaded, err := store.Load(ctx, "t1", "agent-a")
		require.NoError(t, err)
		require.NotNil(t, loaded)

		assert.Equal(t, saved.Turn, loaded.Turn)
		assert.Equal(t, saved.ToolCalls, loaded.ToolCalls)
		assert.Equal(t, saved.LastBoundary, loaded.LastBoundary)
		assert.Equal(t, saved.Consolidated, loaded.Consolidated)
		assert.Len(t, loaded.RenderHistory, 1)
		assert.Len(t, loaded.FactHistory, 2)
		assert.Equal(t, "search", loaded.FactHistory[0].ToolName)
	})

	t.Run("should overwrite on repeated save", func(t *testing.T) {
		store, cleanup := setupTestStore(t)
		defer cleanup()

		first := sampleCheckpoint()
		require.NoError(t, store.Save(ctx, "t1", "agent-a", first))

		second := first
		second.Turn = 7
		second.RenderHistory = []toolexecutor.ActionRecord{}
		require.NoError(t, store.Save(ctx, "t1", "agent-a", second))

		loaded, err := store.Load(ctx, "t1", "agent-a")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, 7, loaded.Turn)
		assert.Empty(t, loaded.RenderHistory)
	})

	t.Run("should key checkpoints by task and agent", func(t *testing.T) {
		store, cleanup := setupTestStore(t)
		defer cleanup()

		cp := sampleCheckpoint()
		require.NoError(t, store.Save(ctx, "t1", "agent-a", cp))

		other, err := store.Load(ctx, "t1", "agent-b")
		require.NoError(t, err)
		assert.Nil(t, other)

		other, err = store.Load(ctx, "t2", "agent-a")
		require.NoError(t, err)
		assert.Nil(t, other)
	})

	t.Run("should delete a checkpoint", func(t *testing.T) {
		store, cleanup := setupTestStore(t)
		defer cleanup()

		require.NoError(t, store.Save(ctx, "t1", "agent-a", sampleCheckpoint()))
		require.NoError(t, store.Delete(ctx, "t1", "agent-a"))

		loaded, err := store.Load(ctx, "t1", "agent-a")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})
}

package hierarchy

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWatcher(t *testing.T) {
	t.Run("should deliver a snapshot after a registry write", func(t *testing.T) {
		registry, _, cleanup := setupTestRegistry(t)
		defer cleanup()

		var notified atomic.Int32
		var lastStack atomic.Int32

		logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
		watcher, err := NewContextWatcher(registry, logger, func(snap *Snapshot) {
			notified.Add(1)
			lastStack.Store(int32(len(snap.Stack)))
		})
		require.NoError(t, err)
		require.NoError(t, watcher.Start())
		defer watcher.Stop()

		_, err = registry.Push("root", "input")
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			return notified.Load() > 0
		}, 2*time.Second, 20*time.Millisecond)
		assert.Equal(t, int32(1), lastStack.Load())
	})

	t.Run("should not fire a pending callback after stop", func(t *testing.T) {
		registry, _, cleanup := setupTestRegistry(t)
		defer cleanup()

		var notified atomic.Int32

		logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
		watcher, err := NewContextWatcher(registry, logger, func(snap *Snapshot) {
			notified.Add(1)
		})
		require.NoError(t, err)
		require.NoError(t, watcher.Start())

		// Arm the debounce timer, then stop before it fires.
		_, err = registry.Push("root", "input")
		require.NoError(t, err)
		require.NoError(t, watcher.Stop())

		time.Sleep(500 * time.Millisecond)
		assert.Equal(t, int32(0), notified.Load())
	})

	t.Run("should ignore unrelated files in the directory", func(t *testing.T) {
		registry, tmpDir, cleanup := setupTestRegistry(t)
		defer cleanup()

		var notified atomic.Int32

		logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
		watcher, err := NewContextWatcher(registry, logger, func(snap *Snapshot) {
			notified.Add(1)
		})
		require.NoError(t, err)
		require.NoError(t, watcher.Start())
		defer watcher.Stop()

		require.NoError(t, os.WriteFile(tmpDir+"/other.json", []byte("{}"), 0600))

		time.Sleep(500 * time.Millisecond)
		assert.Equal(t, int32(0), notified.Load())
	})
}

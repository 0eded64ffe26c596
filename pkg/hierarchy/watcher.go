package hierarchy

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ContextWatcher observes the shared context document and delivers a
// fresh snapshot whenever another agent's status or thinking changes.
// It lets a parent follow its children without polling the registry
// lock.
type ContextWatcher struct {
	watcher  *fsnotify.Watcher
	registry *Registry
	logger   zerolog.Logger
	onChange func(*Snapshot)
	debounce time.Duration
	stopCh   chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewContextWatcher creates a watcher for the registry's shared
// context document. Call Start to begin receiving callbacks.
func NewContextWatcher(registry *Registry, logger zerolog.Logger, onChange func(*Snapshot)) (*ContextWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &ContextWatcher{
		watcher:  watcher,
		registry: registry,
		logger:   logger,
		onChange: onChange,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The containing directory is watched rather
// than the file itself because the registry replaces the document by
// rename on every write.
func (w *ContextWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.registry.ContextPath())); err != nil {
		return err
	}

	go w.run()
	return nil
}

// Stop stops the watcher. A pending debounced callback is cancelled,
// so onChange never fires after Stop returns.
func (w *ContextWatcher) Stop() error {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.stopCh)
	return w.watcher.Close()
}

func (w *ContextWatcher) run() {
	target := w.registry.ContextPath()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Name != target {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Context document changed")
				w.scheduleNotify()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Context watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// scheduleNotify debounces bursts of writes into one callback.
func (w *ContextWatcher) scheduleNotify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}
		w.onChange(w.registry.Snapshot())
	})
}

package persistence

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

const watchDebounce = 100 * time.Millisecond

// ConfigWatcher watches a project's agents.json for edits made outside
// this process (a user hand-editing the file, or a second Supervisor
// instance) and invokes onChange, debounced, so a long-lived Supervisor
// picks them up without a restart.
//
// The watch is on the containing directory, not the file: agents.json is
// replaced by tempfile+rename on every save, which would silently detach a
// file-level watch from the new inode.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// WatchConfig starts watching projectPath's agents.json, calling onChange
// (debounced) whenever it is written, recreated, or renamed into place.
func WatchConfig(projectPath string, onChange func()) (*ConfigWatcher, error) {
	target := NewConfigStore(projectPath).path()
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	cw := &ConfigWatcher{watcher: w, stopCh: make(chan struct{})}
	go cw.run(target, onChange)
	return cw, nil
}

func (cw *ConfigWatcher) run(target string, onChange func()) {
	for {
		select {
		case <-cw.stopCh:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Name != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				cw.debounced(onChange)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("persistence: config watcher error")
		}
	}
}

func (cw *ConfigWatcher) debounced(onChange func()) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(watchDebounce, onChange)
}

// Stop closes the watcher.
func (cw *ConfigWatcher) Stop() {
	close(cw.stopCh)
	cw.mu.Lock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.mu.Unlock()
	_ = cw.watcher.Close()
}

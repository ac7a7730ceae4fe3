package plan

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors and atomic renames
// emit for a single logical save.
const reloadDebounce = 250 * time.Millisecond

// watcher reloads the registry when its backing file changes. The watch is
// on the containing directory, not the file itself, because atomic writers
// replace the file and the old inode stops emitting events.
type watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	onChange func()
	stopCh   chan struct{}
}

func newWatcher(path string, logger *slog.Logger, onChange func()) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &watcher{
		path:     path,
		fsw:      fsw,
		logger:   logger,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
	go w.loop()

	logger.Info("watching registry file for changes", "path", path)
	return w, nil
}

func (w *watcher) loop() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	target := filepath.Clean(w.path)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug("registry file changed",
				"file", filepath.Base(event.Name),
				"op", event.Op.String(),
			)

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, w.onChange)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("registry watch error", "error", err)

		case <-w.stopCh:
			return
		}
	}
}

func (w *watcher) stop() {
	close(w.stopCh)
	_ = w.fsw.Close()
}

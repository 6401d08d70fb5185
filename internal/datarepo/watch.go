package datarepo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long a burst of filesystem events is coalesced before
// reloading.
const watchDebounce = 100 * time.Millisecond

// Watcher reloads a view when its collection directory changes on disk.
type Watcher struct {
	fw   *fsnotify.Watcher
	dir  string
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Watch reloads the view whenever another writer changes its collection,
// until ctx is done or the Watcher is closed. Close must always be called.
func (v *View[T]) Watch(ctx context.Context) (*Watcher, error) {
	dir := v.inst.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directories are shared.
		return nil, fmt.Errorf("failed to create collection directory: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{fw: fw, dir: dir, stop: make(chan struct{})}
	if err := w.addTree(); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w.wg.Add(1)
	go w.run(ctx, func() {
		if err := v.Reload(ctx); err != nil {
			slog.WarnContext(ctx, "watch reload", "dir", dir, "err", err)
		}
	})
	return w, nil
}

// addTree watches the collection directory and every entry directory in it.
// Data files are renamed into entry directories, which the collection
// directory watch alone does not report.
func (w *Watcher) addTree() error {
	if err := w.fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read collection: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.fw.Add(filepath.Join(w.dir, e.Name())); err != nil {
				return fmt.Errorf("failed to watch %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, reload func()) {
	defer w.wg.Done()
	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(ev.Name, ".tmp") {
				continue
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == w.dir {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.fw.Add(ev.Name); err != nil {
						slog.WarnContext(ctx, "watch", "path", ev.Name, "err", err)
					}
				}
			}
			timer.Reset(watchDebounce)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "watch", "dir", w.dir, "err", err)
		case <-timer.C:
			reload()
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		}
	}
}

// Close stops watching and waits for a reload in progress to finish.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.stop) })
	w.wg.Wait()
	return w.fw.Close()
}

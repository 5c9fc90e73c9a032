package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDebounce coalesces the burst of fsnotify events a single editor
// save produces into one reload.
const reloadDebounce = 100 * time.Millisecond

// reloadOps are the operations that can change the watched file's content.
const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// OnReload receives the previous and freshly loaded config after a
// successful hot-reload (e.g. to re-apply the daemon's log level).
type OnReload func(old, new *Config)

// Watcher reloads the config whenever the file on disk changes.
type Watcher struct {
	fs   *fsnotify.Watcher
	path string
	quit chan struct{}

	mu       sync.Mutex
	onReload []OnReload
}

// Watch starts watching the config file at path. Each change re-loads and
// validates the file and publishes the result through the package's atomic
// pointer, then hands the old and new values to registered callbacks. The
// previous config stays in effect when a reload fails.
func Watch(path string) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher: file path must not be empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watcher: resolving path: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: creating fsnotify watcher: %w", err)
	}

	// Editors commonly save via write-tmp-plus-rename, which replaces the
	// inode and silently ends a watch on the file itself. Watching the
	// parent directory keeps those renames visible.
	dir := filepath.Dir(abs)
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("config watcher: watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fs:   fs,
		path: abs,
		quit: make(chan struct{}),
	}
	go w.run()

	return w, nil
}

// OnChange registers a callback invoked after each successful reload. Safe
// to call from multiple goroutines.
func (w *Watcher) OnChange(fn OnReload) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	close(w.quit)
	return w.fs.Close()
}

func (w *Watcher) run() {
	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-w.quit:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&reloadOps == 0 {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config: watcher error")
		}
	}
}

func (w *Watcher) reload() {
	prev := Get()

	cur, err := Load(w.path)
	if err != nil {
		log.Error().Err(err).Str("file", w.path).Msg("config: reload failed, keeping previous config")
		return
	}
	log.Info().Str("file", w.path).Msg("config: reloaded")

	w.mu.Lock()
	cbs := append([]OnReload(nil), w.onReload...)
	w.mu.Unlock()

	for _, cb := range cbs {
		w.notify(cb, prev, cur)
	}
}

// notify shields the watcher goroutine from a panicking callback.
func (w *Watcher) notify(cb OnReload, prev, cur *Config) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("config: reload callback panicked")
		}
	}()
	cb(prev, cur)
}

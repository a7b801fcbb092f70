// Package watch supplies the production adapter for the file-system watch
// callback spec.md §6 describes abstractly ("a callback
// fn(changedParentPaths: Vec<String>)"): Watcher wraps fsnotify.Watcher,
// debounces events per parent directory, and invokes the registered
// callback with a batch of changed parent paths.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Callback receives a batch of parent directory paths that changed since
// the last call: filepath.Dir of each event's path as fsnotify reports it,
// without further canonicalisation.
type Callback func(changedParentPaths []string)

// Watcher debounces fsnotify events into batched parent-directory
// callbacks.
type Watcher struct {
	fsw      *fsnotify.Watcher
	cb       Callback
	debounce time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	done chan struct{}
}

// New builds and starts a Watcher. debounce is the quiet period after the
// last event before cb fires; a non-positive value defaults to 200ms.
func New(cb Callback, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &Watcher{
		fsw:      fsw,
		cb:       cb,
		debounce: debounce,
		log:      log,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Add registers a directory for watching.
func (w *Watcher) Add(dir string) error {
	return w.fsw.Add(dir)
}

// Remove unregisters a directory.
func (w *Watcher) Remove(dir string) error {
	return w.fsw.Remove(dir)
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.record(filepath.Dir(ev.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("fs watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) record(parent string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[parent] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()
	w.cb(paths)
}

// Close stops the watcher and its debounce timer.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.fsw.Close()
	<-w.done
	return err
}

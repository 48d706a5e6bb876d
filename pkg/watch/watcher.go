// Package watch reports changes to named files in a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events a publish produces.
const DefaultDebounce = 250 * time.Millisecond

// Watcher monitors a directory and calls OnChange after any of the watched
// names is created, written, renamed or removed.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	names    map[string]struct{}
	debounce time.Duration

	// OnChange receives the directory once per debounced burst.
	OnChange func(dir string)
	OnError  func(err error)
}

// NewWatcher watches names inside dir. dir must exist.
func NewWatcher(dir string, names ...string) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(absDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &Watcher{
		watcher:  fsWatcher,
		dir:      absDir,
		names:    set,
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce changes the quiet period before OnChange fires.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run starts the watch loop. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if _, watched := w.names[filepath.Base(event.Name)]; !watched {
				continue
			}

			// Debounce rapid changes
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() == nil && w.OnChange != nil {
					w.OnChange(w.dir)
				}
			})
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError(err)
			}
		}
	}
}

/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultFileWatcherDebounceInterval is a default time to wait after the last change of the file before reloading.
const DefaultFileWatcherDebounceInterval = time.Millisecond * 100

// FileWatcherOpts represents options for the FileWatcher.
type FileWatcherOpts struct {
	// DebounceInterval is the time to wait after the last detected change before calling the callback.
	DebounceInterval time.Duration

	// OnError is called for watching errors and for errors returned by the change callback.
	OnError func(err error)
}

// FileWatcher watches a configuration file and calls a callback when the file changes.
// The parent directory is watched, so replacing the file (as editors and config maps do) is detected too.
type FileWatcher struct {
	path string
	opts FileWatcherOpts
}

// NewFileWatcher creates a new FileWatcher for the file.
func NewFileWatcher(path string, opts FileWatcherOpts) *FileWatcher {
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = DefaultFileWatcherDebounceInterval
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}
	return &FileWatcher{path: path, opts: opts}
}

// Watch blocks until ctx is done, calling onChange after every (debounced) change of the file.
// Calls of onChange are never concurrent.
func (fw *FileWatcher) Watch(ctx context.Context, onChange func() error) error {
	absPath, err := filepath.Abs(fw.path)
	if err != nil {
		return fmt.Errorf("get absolute path of %q: %w", fw.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err = watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch directory of %q: %w", absPath, err)
	}

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			fire = time.After(fw.opts.DebounceInterval)

		case <-fire:
			fire = nil
			if cbErr := onChange(); cbErr != nil {
				fw.opts.OnError(fmt.Errorf("handle change of %q: %w", absPath, cbErr))
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			fw.opts.OnError(watchErr)
		}
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package listing

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow is how long the watcher waits for further writes
// before reloading.
const DefaultDebounceWindow = 100 * time.Millisecond

// ReloadHandler receives the outcome of every reload. Exactly one of l and
// err is non-nil.
type ReloadHandler func(ctx context.Context, l *Listing, err error)

// Watcher reloads a listing file whenever it changes.
//
// # Description
//
// Watches the directory containing the file, so editors that save by
// writing a temporary file and renaming it over the original are seen as
// well. Events for other files in the directory are ignored. Bursts of
// events are debounced into a single reload.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single goroutine.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handler  ReloadHandler
	debounce time.Duration
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce window. Non-positive values are ignored.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger used for watch errors.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for the listing at path. Call Start to begin
// watching and Stop to release the underlying file descriptors.
//
// # Example
//
//	w, err := listing.NewWatcher("cond.yaml", func(ctx context.Context, l *listing.Listing, err error) {
//	    if err != nil {
//	        slog.Warn("reload failed", slog.String("error", err.Error()))
//	        return
//	    }
//	    render(ctx, l)
//	})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
func NewWatcher(path string, handler ReloadHandler, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		path:     abs,
		watcher:  fw,
		handler:  handler,
		debounce: DefaultDebounceWindow,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. The loop exits when ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops watching and waits for the loop to exit. It is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
	w.wg.Wait()
}

// Path returns the absolute path of the watched listing.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			l, err := Load(w.path)
			if w.handler != nil {
				w.handler(ctx, l, err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("listing: watch error",
				slog.String("path", w.path),
				slog.String("error", err.Error()),
			)
		}
	}
}

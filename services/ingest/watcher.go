// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

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

// WatcherOptions configure a Watcher.
type WatcherOptions struct {
	// Debounce is how long a file must stay quiet before it is ingested.
	// Default: 500ms.
	Debounce time.Duration

	// Limit is passed to Ingest. Default: DefaultLimit.
	Limit int

	// OnIngest, if set, is called after each file is processed.
	OnIngest func(path string, sum Summary, err error)
}

// Watcher ingests *.json outlines dropped into a directory.
//
// # Description
//
// Create and write events are debounced per file, so an outline written
// in several chunks is ingested once after the writer goes quiet. Files
// are not removed after ingestion; writing one again re-ingests it.
//
// # Thread Safety
//
// Start and Stop may be called from any goroutine. Stop waits for
// in-progress ingestions.
type Watcher struct {
	dir      string
	ingester *Ingester
	opts     WatcherOptions
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for dir. It does not start watching.
func NewWatcher(dir string, ingester *Ingester, opts WatcherOptions) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingest dir %s is not a directory", dir)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		ingester: ingester,
		opts:     opts,
		watcher:  fw,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Ingestions run with ctx; cancelling it stops
// the watcher.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	slog.Info("Watching for outlines", "dir", w.dir)
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends watching, cancels pending debounced files and waits for
// running ingestions.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.stopped = true
		for path, t := range w.timers {
			if t.Stop() {
				w.wg.Done()
			}
			delete(w.timers, path)
		}
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			go w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isOutline(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Outline watcher error", "dir", w.dir, "error", err)
		}
	}
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.opts.Debounce)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.opts.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] == t {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.ingestFile(ctx, path)
	})
	w.timers[path] = t
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	sum, err := w.ingestPath(ctx, path)
	if err != nil {
		slog.Error("Outline ingestion failed", "path", path, "error", err)
	}
	if w.opts.OnIngest != nil {
		w.opts.OnIngest(path, sum, err)
	}
}

func (w *Watcher) ingestPath(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open outline: %w", err)
	}
	defer f.Close()

	outline, err := ParseOutline(f)
	if err != nil {
		return Summary{}, err
	}
	if outline.Source == "" {
		outline.Source = filepath.Base(path)
	}
	return w.ingester.Ingest(ctx, outline, w.opts.Limit)
}

// isOutline matches *.json files, skipping hidden and editor temp files.
func isOutline(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".json")
}

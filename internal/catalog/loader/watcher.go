// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/tombee/marketplace/pkg/catalog"
)

// ReloadFunc receives the freshly loaded catalog after a change.
type ReloadFunc func(items []catalog.Item)

// WatcherConfig configures a catalog file watcher.
type WatcherConfig struct {
	Loader   *Loader
	Patterns []string
	OnReload ReloadFunc

	// DebounceDelay coalesces bursts of writes (defaults to 250ms).
	DebounceDelay time.Duration

	Logger *slog.Logger
}

// Watcher reloads the catalog when any file matching the patterns is
// written, created, removed or renamed.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	cfg       WatcherConfig
	logger    *slog.Logger

	// mu protects pending
	mu      sync.Mutex
	pending *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher starts watching the directories containing the patterns.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Loader == nil || cfg.OnReload == nil {
		return nil, fmt.Errorf("loader and reload callback are required")
	}
	if len(cfg.Patterns) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	if cfg.DebounceDelay == 0 {
		cfg.DebounceDelay = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	for _, pattern := range cfg.Patterns {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
		dir, err := filepath.Abs(filepath.FromSlash(base))
		if err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to resolve path %s: %w", base, err)
		}
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to watch path %s: %w", dir, err)
		}
		logger.Debug("watching catalog directory", "path", dir, "pattern", pattern)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher: fsWatcher,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if w.matches(event.Name) {
				w.schedule()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("catalog watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) matches(name string) bool {
	if !isCatalogFile(name) {
		return false
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	for _, pattern := range w.cfg.Patterns {
		absPattern, err := filepath.Abs(pattern)
		if err != nil {
			continue
		}
		if ok, _ := doublestar.PathMatch(absPattern, abs); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.cfg.DebounceDelay, w.reload)
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}
	items, err := w.cfg.Loader.LoadFiles(w.ctx, w.cfg.Patterns)
	if err != nil {
		// Keep serving the previous catalog.
		w.logger.Error("catalog reload failed", "error", err)
		return
	}
	w.logger.Info("catalog reloaded", "items", len(items))
	w.cfg.OnReload(items)
}

// Close stops the watcher and cancels any pending reload.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}

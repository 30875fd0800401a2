// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaveWatcher serves the current wave and reloads it when the config file
// changes.
//
// # Description
//
// The directory holding the config file is watched rather than the file
// itself, so editors that replace the file on save are still seen. Changes
// are debounced. A WAVE environment variable pins the wave and disables
// reloading.
//
// # Thread Safety
//
// Wave is safe for concurrent use.
type WaveWatcher struct {
	path     string
	log      *slog.Logger
	debounce time.Duration
	current  atomic.Value // string

	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWaveWatcher creates a watcher for the config file at path, starting
// from initial.
func NewWaveWatcher(path, initial string, log *slog.Logger) *WaveWatcher {
	if log == nil {
		log = slog.Default()
	}
	if initial == "" {
		initial = DefaultWave
	}
	w := &WaveWatcher{
		path:     filepath.Clean(path),
		log:      log,
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}
	w.current.Store(initial)
	return w
}

// Wave returns the active wave.
func (w *WaveWatcher) Wave() string {
	return w.current.Load().(string)
}

// Start begins watching. It returns immediately; watching stops when ctx is
// cancelled or Stop is called. Start is a no-op when the wave is pinned by
// the environment or no config file is in use.
func (w *WaveWatcher) Start(ctx context.Context) error {
	if w.path == "." || os.Getenv("WAVE") != "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the watch goroutine.
func (w *WaveWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
	w.wg.Wait()
}

func (w *WaveWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
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
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config.watch.error", "error", err)
		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *WaveWatcher) reload() {
	cfg, err := readFile(w.path)
	if err != nil {
		w.log.Warn("config.reload.failed", "path", w.path, "error", err)
		return
	}
	next := cfg.Wave
	if next == "" {
		next = DefaultWave
	}
	if prev := w.Wave(); prev != next {
		w.current.Store(next)
		w.log.Info("config.wave.changed", "from", prev, "to", next)
	}
}

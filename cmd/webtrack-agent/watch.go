// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/bureau-foundation/webtrack/lib/plugins/script"
)

// watchScripts reloads script plugins as files in dir change, until
// ctx ends.
func (a *agent) watchScripts(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating script watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	a.logger.Info("watching script plugins", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case fileEvent, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			a.handleFileEvent(fileEvent)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("script watcher error", "dir", dir, "error", err)
		}
	}
}

// handleFileEvent schedules a sync of the plugin a changed file
// belongs to. Events for the same plugin within the reload delay
// collapse into one sync.
func (a *agent) handleFileEvent(fileEvent fsnotify.Event) {
	if fileEvent.Op == fsnotify.Chmod {
		return
	}
	initPath := script.InitScriptFor(fileEvent.Name)
	if !script.IsInitScript(filepath.Base(initPath)) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if timer, ok := a.pending[initPath]; ok {
		timer.Reset(a.reloadDelay)
		return
	}
	a.pending[initPath] = a.clock.AfterFunc(a.reloadDelay, func() {
		a.mu.Lock()
		delete(a.pending, initPath)
		a.mu.Unlock()
		a.syncScript(initPath)
	})
}

// syncScript brings the registered plugin in line with the files on
// disk: a missing init script unloads the plugin, anything else
// (re)loads it.
func (a *agent) syncScript(initPath string) {
	if _, err := os.Stat(initPath); errors.Is(err, fs.ErrNotExist) {
		a.unregisterScript(scriptName(initPath))
		return
	}
	p, err := script.Load(initPath)
	if err != nil {
		a.logger.Warn("reloading script plugin", "path", initPath, "error", err)
		return
	}
	a.registerScript(p)
}

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
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor produces on save.
const DefaultDebounce = 200 * time.Millisecond

// ChangeHandler receives the reloaded strategy, or the load error.
type ChangeHandler func(s *Strategy, err error)

// Watch reloads the strategy at path whenever it changes.
//
// Description:
//
//	The parent directory is watched so that editors which replace the file
//	on save are still observed. Events for other files are ignored. Events
//	within debounce of each other trigger a single reload. Blocks until ctx
//	is cancelled.
//
// Inputs:
//   - ctx: Stops the watcher.
//   - path: The strategy file.
//   - debounce: Quiet period before reloading. Zero uses DefaultDebounce.
//   - onChange: Called from the watcher goroutine, never concurrently.
//
// Outputs:
//   - error: When the watcher cannot be created. Nil after ctx is cancelled.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange ChangeHandler) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	abs = filepath.Join(dir, filepath.Base(abs))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onChange(nil, fmt.Errorf("watch %s: %w", path, err))

		case <-timer.C:
			s, err := Load(abs)
			onChange(s, err)
		}
	}
}

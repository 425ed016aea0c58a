// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settingsDebounce coalesces bursts of write events (editors often produce
// several per save) into one reload.
const settingsDebounce = 200 * time.Millisecond

// SettingsWatcher hot-reloads the settings store when its file changes on
// disk, so template or model-list edits take effect without a restart.
type SettingsWatcher struct {
	store   *SettingsStore
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSettingsWatcher creates a watcher bound to the store's file.
func NewSettingsWatcher(store *SettingsStore) (*SettingsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: atomic writes replace the file by
	// rename, which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(store.Path())); err != nil {
		watcher.Close()
		return nil, err
	}

	sw := &SettingsWatcher{
		store:   store,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go sw.run()
	return sw, nil
}

// run processes events until Close.
func (sw *SettingsWatcher) run() {
	var timer *time.Timer
	target := filepath.Base(sw.store.Path())

	for {
		select {
		case <-sw.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(settingsDebounce, sw.reload)

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("SETTINGS_WATCH_ERROR | error=%v", err)
		}
	}
}

// reload re-reads the settings file after the debounce window.
func (sw *SettingsWatcher) reload() {
	if err := sw.store.Reload(); err != nil {
		log.Printf("SETTINGS_RELOAD_FAILED | error=%v", err)
		return
	}
	log.Printf("SETTINGS_RELOAD | path=%s", sw.store.Path())
}

// Close stops watching and releases resources.
func (sw *SettingsWatcher) Close() error {
	close(sw.done)
	return sw.watcher.Close()
}

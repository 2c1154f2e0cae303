// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"path"
	"path/filepath"

	"github.com/bitmark-inc/logger"
	"github.com/fsnotify/fsnotify"

	"github.com/spanlink/spanlinkd/mesh"
)

// configWatcher - re-read the configuration when the file changes
//
// only the advertised services are refreshed; transport settings
// need a restart
type configWatcher struct {
	log      *logger.L
	filePath string
	watcher  *fsnotify.Watcher
}

func newConfigWatcher(targetFile string, log *logger.L) (*configWatcher, error) {

	watcher, err := fsnotify.NewWatcher()
	if nil != err {
		return nil, err
	}

	filePath, err := filepath.Abs(filepath.Clean(targetFile))
	if nil != err {
		watcher.Close()
		return nil, err
	}

	return &configWatcher{
		log:      log,
		filePath: filePath,
		watcher:  watcher,
	}, nil
}

func (w *configWatcher) Start() error {

	err := w.watcher.Add(w.filePath)
	if nil != err {
		w.log.Errorf("watcher add error: %s", err)
		return err
	}

	go func() {
		for event := range w.watcher.Events {
			w.log.Infof("file event: %v", event)

			if watcherEventFileRemove(event) {
				w.log.Errorf("file %s removed, stop watching", w.filePath)
				return
			}

			if path.Base(event.Name) != path.Base(w.filePath) {
				continue
			}

			if watcherEventFileChange(event) {
				w.reload()
			}
		}
	}()

	return nil
}

func (w *configWatcher) Stop() {
	w.watcher.Close()
}

// re-read the file and push the new service list to the mesh
func (w *configWatcher) reload() {

	options, err := getConfiguration(w.filePath)
	if nil != err {
		w.log.Errorf("reload: %q error: %s", w.filePath, err)
		return
	}

	err = mesh.SetServices(options.Services)
	if nil != err {
		w.log.Errorf("reload services error: %s", err)
		return
	}
	w.log.Infof("services refreshed: %v", options.Services)
}

func watcherEventFileRemove(event fsnotify.Event) bool {
	return "" == event.Name || fsnotify.Remove == event.Op&fsnotify.Remove
}

func watcherEventFileChange(event fsnotify.Event) bool {
	return fsnotify.Write == event.Op&fsnotify.Write ||
		fsnotify.Chmod == event.Op&fsnotify.Chmod
}

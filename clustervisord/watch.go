// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gdamore/clustervisor"
)

// settle is how long the executable must stay quiet before a restart;
// deployments tend to write it in several steps.
const settle = 500 * time.Millisecond

// watchExecutable restarts the cluster whenever the worker executable is
// replaced.  The directory is watched, so that renames over the file are
// seen as well as writes to it.
func watchExecutable(sv *clustervisor.Supervisor, cfg clustervisor.Config, logger *log.Logger) (*fsnotify.Watcher, error) {
	path, _, e := cfg.Command()
	if e != nil {
		return nil, e
	}
	w, e := fsnotify.NewWatcher()
	if e != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", e)
	}
	if e := w.Add(filepath.Dir(path)); e != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, e)
	}

	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(settle, func() {
					logger.Printf("%s changed, restarting workers", path)
					if e := sv.Restart(nil); e != nil {
						logger.Printf("Restart refused: %v", e)
					}
				})
			case e, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Printf("Watch error: %v", e)
			}
		}
	}()
	return w, nil
}

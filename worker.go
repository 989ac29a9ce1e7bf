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

package clustervisor

import (
	"time"
)

// WorkerState is the observable lifecycle state of a worker.
type WorkerState int

const (
	WorkerStarting WorkerState = iota
	WorkerOnline
	WorkerListening
	WorkerDisconnected
	WorkerDead
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "starting"
	case WorkerOnline:
		return "online"
	case WorkerListening:
		return "listening"
	case WorkerDisconnected:
		return "disconnected"
	case WorkerDead:
		return "dead"
	}
	return "unknown"
}

// hook is a one-shot observer.  Canceled hooks are skipped.
type hook struct {
	fn       func(*Worker)
	canceled bool
}

func (h *hook) cancel() {
	if h != nil {
		h.canceled = true
	}
}

func fire(hooks []*hook, w *Worker) {
	for _, h := range hooks {
		if !h.canceled {
			h.canceled = true
			h.fn(w)
		}
	}
}

// Worker is one supervised child process.  Workers are owned by the
// supervisor's event loop; applications only ever see WorkerInfo copies.
type Worker struct {
	id         int
	pid        int
	birth      time.Time
	proc       Process
	state      WorkerState
	connected  bool
	graceful   bool      // disconnected before exiting, not a crash
	condemned  time.Time // zero until condemned
	willBeDead bool      // being replaced by a restart
	ready      bool
	killTimer  *timer
	readyHooks []*hook
	exitHooks  []*hook
}

func newWorker(id int) *Worker {
	return &Worker{
		id:        id,
		birth:     time.Now(),
		state:     WorkerStarting,
		connected: true,
	}
}

// Age is derived on every read, never stored.
func (w *Worker) Age() time.Duration {
	return time.Since(w.birth)
}

func (w *Worker) isCondemned() bool {
	return !w.condemned.IsZero()
}

func (w *Worker) onReady(fn func(*Worker)) *hook {
	h := &hook{fn: fn}
	w.readyHooks = append(w.readyHooks, h)
	return h
}

func (w *Worker) onExit(fn func(*Worker)) *hook {
	h := &hook{fn: fn}
	w.exitHooks = append(w.exitHooks, h)
	return h
}

// markReady fires the readiness observers, at most once per worker.
func (w *Worker) markReady() {
	if w.ready {
		return
	}
	w.ready = true
	hooks := w.readyHooks
	w.readyHooks = nil
	fire(hooks, w)
}

func (w *Worker) markExited() {
	w.state = WorkerDead
	w.connected = false
	w.readyHooks = nil
	hooks := w.exitHooks
	w.exitHooks = nil
	fire(hooks, w)
}

// WorkerInfo is a read-only snapshot of a worker.
type WorkerInfo struct {
	Id         int           `json:"id"`
	Pid        int           `json:"pid"`
	State      string        `json:"state"`
	Birth      time.Time     `json:"birth"`
	Age        time.Duration `json:"age"`
	Connected  bool          `json:"connected"`
	Graceful   bool          `json:"exitedGracefully"`
	Condemned  *time.Time    `json:"condemnedAt,omitempty"`
	WillBeDead bool          `json:"willBeDead"`
}

func (w *Worker) info() WorkerInfo {
	i := WorkerInfo{
		Id:         w.id,
		Pid:        w.pid,
		State:      w.state.String(),
		Birth:      w.birth,
		Connected:  w.connected,
		Graceful:   w.graceful,
		WillBeDead: w.willBeDead,
	}
	if w.isCondemned() {
		t := w.condemned
		i.Condemned = &t
	}
	return i
}

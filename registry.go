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

// registry holds the live workers, in spawn order.  Ids are never reused
// for the life of the supervisor.
type registry struct {
	workers map[int]*Worker
	order   []int
	lastID  int
}

func newRegistry() *registry {
	return &registry{workers: make(map[int]*Worker)}
}

func (r *registry) nextID() int {
	r.lastID++
	return r.lastID
}

func (r *registry) add(w *Worker) {
	r.workers[w.id] = w
	r.order = append(r.order, w.id)
}

func (r *registry) get(id int) *Worker {
	return r.workers[id]
}

func (r *registry) remove(id int) {
	if _, ok := r.workers[id]; !ok {
		return
	}
	delete(r.workers, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *registry) len() int {
	return len(r.order)
}

// all returns the live workers, oldest first.  The slice is a copy, so
// callers may mutate the registry while iterating it.
func (r *registry) all() []*Worker {
	ws := make([]*Worker, 0, len(r.order))
	for _, id := range r.order {
		ws = append(ws, r.workers[id])
	}
	return ws
}

// spawn launches a new worker and registers it.  The readiness observer,
// if any, is installed before the process can report anything.  A nil
// return means the launch failed; the failure has already been logged.
func (s *Supervisor) spawn(onReady func(*Worker)) *Worker {
	id := s.reg.nextID()
	w := newWorker(id)
	if onReady != nil {
		w.onReady(onReady)
	}
	notify := func(ev Event) {
		s.post(func() { s.handle(id, ev) })
	}
	proc, e := s.launcher.Launch(id, s.cfg.Env, notify)
	if e != nil {
		s.debugf("Worker %d failed to launch: %v", id, e)
		s.metrics.LaunchFailed()
		return nil
	}
	w.proc = proc
	w.pid = proc.Pid()
	w.birth = s.now()
	s.reg.add(w)
	s.metrics.WorkerSpawned()
	s.debugf("Worker %d setting up (pid %d)", id, w.pid)
	return w
}

// handle dispatches a launcher event to the worker it concerns.  Events
// for workers no longer in the registry are dropped.
func (s *Supervisor) handle(id int, ev Event) {
	w := s.reg.get(id)
	if w == nil {
		return
	}
	switch ev.Kind {
	case EventForked:
		if w.state == WorkerStarting {
			w.state = WorkerOnline
		}
		s.debugf("Worker %d online", id)
		if !s.cfg.ListeningWorkers {
			w.markReady()
		}
	case EventListening:
		if w.state != WorkerDisconnected {
			w.state = WorkerListening
		}
		s.debugf("Worker %d listening", id)
		if s.cfg.ListeningWorkers {
			w.markReady()
		}
	case EventDisconnect:
		s.disconnected(w)
	case EventExit:
		s.workerExited(w, ev.Graceful)
	case EventMessage:
		if s.onMessage != nil {
			s.onMessage(id, ev.Message)
		}
	}
}

// workerExited removes the worker before any exit observer runs, so that every
// observer sees the true live count.
func (s *Supervisor) workerExited(w *Worker, graceful bool) {
	s.reg.remove(w.id)
	w.killTimer.stop()
	w.graceful = w.graceful || graceful
	s.metrics.WorkerExited(w.graceful)
	w.markExited()
	s.observeExit(w)
}

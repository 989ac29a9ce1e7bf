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

// latch calls done once every trigger handed out by add has fired.  It
// holds one count of its own until release, so triggers firing while the
// latch is still being armed cannot complete it early.
type latch struct {
	n    int
	done func()
}

func newLatch(done func()) *latch {
	return &latch{n: 1, done: done}
}

func (l *latch) countDown() {
	l.n--
	if l.n == 0 {
		l.done()
	}
}

// add returns a trigger.  Firing a trigger more than once is harmless.
func (l *latch) add() func() {
	l.n++
	fired := false
	return func() {
		if !fired {
			fired = true
			l.countDown()
		}
	}
}

func (l *latch) release() {
	l.countDown()
}

// resize sets the target (a negative size keeps the current one) and
// converges the fleet on it.  Done callbacks queue up and all run when
// the next convergence pass completes.
func (s *Supervisor) resize(size int, done func()) {
	if size >= 0 {
		s.target = size
	}
	if s.phase == PhaseRestartResizing {
		// the pass in flight belongs to the restart, and its callbacks
		// hand over to the restart rather than verify the count
		s.debugf("Restart resizing, resize to %d deferred", s.target)
		if done != nil {
			s.deferredCbs = append(s.deferredCbs, done)
		}
		s.pendingResize = true
		return
	}
	if done != nil {
		s.resizeCbs = append(s.resizeCbs, done)
	}
	switch {
	case s.resizing():
		// the pass in flight verifies the count, and retries
		s.debugf("Already resizing, target now %d", s.target)
		return
	case s.restarting():
		s.debugf("Restart in progress, resize to %d deferred", s.target)
		s.pendingResize = true
		return
	}
	s.phase = PhaseResizing
	s.converge()
}

// converge spawns or condemns workers until the count matches the
// target.  Growth completes as each new worker becomes ready (or dies
// trying); shrinkage as each condemned worker exits.
func (s *Supervisor) converge() {
	workers := s.reg.all()
	delta := s.target - len(workers)
	if delta == 0 {
		s.resized()
		return
	}
	s.debugf("Resizing %d -> %d", len(workers), s.target)

	l := newLatch(s.resized)
	if delta > 0 {
		for i := 0; i < delta; i++ {
			done := l.add()
			w := s.spawn(func(*Worker) { done() })
			if w == nil {
				done()
				continue
			}
			w.onExit(func(*Worker) { done() })
		}
	} else {
		// oldest first
		for _, w := range workers[:-delta] {
			done := l.add()
			w.onExit(func(*Worker) { done() })
			s.condemn(w)
		}
	}
	l.release()
}

// resized finishes a convergence pass.  The callbacks run first; if none
// of them started something new, the count is verified against the
// target and the pass retried if needed.
func (s *Supervisor) resized() {
	s.debugf("Done resizing, %d workers", s.reg.len())
	if s.phase == PhaseRestartResizing {
		s.phase = PhaseRestarting
	} else {
		s.phase = PhaseIdle
	}
	cbs := s.resizeCbs
	s.resizeCbs = nil
	for _, cb := range cbs {
		cb()
		if s.exited {
			return
		}
	}
	if s.resizing() || s.restarting() {
		return
	}
	s.verify()
}

func (s *Supervisor) verify() {
	if s.reg.len() == s.target {
		s.danger = false
		return
	}
	if s.danger && s.target == 0 {
		s.debugf("DANGER! Cannot drain the fleet, giving up")
		s.state = StateFailed
		s.exit(1)
		return
	}
	s.debugf("DANGER! Have %d workers, want %d", s.reg.len(), s.target)
	s.danger = true
	s.after(s.cfg.ResizeBackoff, func() { s.resize(-1, nil) })
}

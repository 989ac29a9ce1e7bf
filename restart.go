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

// restartPass tracks one rolling restart.  The first replacement is
// watched through the skeptic window before anything else is touched.
type restartPass struct {
	ids     []int
	next    int
	done    []func()
	skeptic *timer
}

// candidates are the workers a restart has to replace: everyone not
// already being replaced by an earlier pass.
func (s *Supervisor) candidates() []int {
	var ids []int
	for _, w := range s.reg.all() {
		if !w.willBeDead {
			ids = append(ids, w.id)
		}
	}
	return ids
}

// restart begins a rolling restart.  Force bypasses the cooldown, and is
// used by the shutdown path.
func (s *Supervisor) restart(done func(), force bool) error {
	if s.restarting() {
		s.debugf("Already restarting, cannot restart yet")
		s.metrics.RestartFinished(RestartRefused)
		return ErrRestarting
	}
	if s.cooldown != nil && !force {
		s.debugf("Restarting too quickly, cannot restart yet")
		s.metrics.RestartFinished(RestartRefused)
		return ErrTooQuick
	}

	s.sweep()
	s.cooldown.stop()
	s.cooldown = nil
	if s.cfg.RestartCooldown > 0 {
		s.cooldown = s.after(s.cfg.RestartCooldown, func() {
			s.cooldown = nil
		})
	}

	p := &restartPass{}
	if done != nil {
		p.done = append(p.done, done)
	}
	s.pass = p

	current := s.candidates()
	if s.resizing() || len(current) != s.target {
		// get to the right size first, then replace whoever is there
		s.debugf("Restart waiting for resize (%d -> %d)", len(current), s.target)
		wasResizing := s.resizing()
		s.phase = PhaseRestartResizing
		s.resizeCbs = append(s.resizeCbs, func() {
			if s.pass != p {
				return
			}
			p.ids = s.candidates()
			s.step(p)
		})
		if !wasResizing {
			s.converge()
		}
		return nil
	}
	s.phase = PhaseRestarting
	p.ids = current
	s.step(p)
	return nil
}

// step replaces the next worker in the pass.
func (s *Supervisor) step(p *restartPass) {
	for s.pass == p {
		if p.next >= len(p.ids) {
			s.restarted(p)
			return
		}
		first := p.next == 0
		old := s.reg.get(p.ids[p.next])
		p.next++
		s.debugf("Restarting %d of %d", p.next, len(p.ids))

		if s.quitting() {
			// no replacements while draining
			if old != nil && old.connected {
				s.condemn(old)
			}
			continue
		}

		if old != nil {
			old.willBeDead = true
		}
		newbie := s.spawn(nil)
		if newbie == nil {
			if first {
				s.abortRestart(p, old, "New worker failed to launch, aborting restart")
				return
			}
			if old != nil {
				old.willBeDead = false
			}
			continue
		}

		if !first {
			newbie.onReady(func(*Worker) {
				if old != nil && old.connected {
					s.condemn(old)
				}
			})
			continue
		}

		// Be skeptical of the first replacement.  If it dies before
		// it is ready, or within the window afterwards, the new code
		// is bad and the old workers stay.
		exitHook := newbie.onExit(func(*Worker) {
			p.skeptic.stop()
			s.abortRestart(p, old, "New worker died quickly, aborting restart")
		})
		newbie.onReady(func(*Worker) {
			p.skeptic = s.after(s.cfg.SkepticWindow, func() {
				exitHook.cancel()
				if old != nil && old.connected {
					s.condemn(old)
				}
				s.step(p)
			})
		})
		return
	}
}

func (s *Supervisor) abortRestart(p *restartPass, old *Worker, why string) {
	if s.pass != p {
		return
	}
	s.debugf("%s", why)
	p.skeptic.stop()
	if old != nil {
		old.willBeDead = false
	}
	s.pass = nil
	s.phase = PhaseIdle
	s.metrics.RestartFinished(RestartAborted)
	s.afterRestart()
}

func (s *Supervisor) restarted(p *restartPass) {
	s.debugf("Restart complete")
	s.pass = nil
	s.phase = PhaseIdle
	s.metrics.RestartFinished(RestartCompleted)
	for _, cb := range p.done {
		cb()
		if s.exited {
			return
		}
	}
	s.afterRestart()
}

// afterRestart picks up whatever had to wait for the restart: a drain
// if we are shutting down, otherwise any deferred resize.
func (s *Supervisor) afterRestart() {
	if s.restarting() || s.exited {
		return
	}
	s.resizeCbs = append(s.resizeCbs, s.deferredCbs...)
	s.deferredCbs = nil
	if s.quitting() {
		s.drain()
		return
	}
	if s.pendingResize {
		s.pendingResize = false
		s.resize(-1, nil)
	}
}

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

// observeExit decides what an exit means for the fleet.  Crashes of young
// workers count against the unstable limit, and past the limit the
// supervisor gives up rather than fork bomb the host.
func (s *Supervisor) observeExit(w *Worker) {
	if !w.graceful {
		age := s.now().Sub(w.birth)
		s.debugf("Worker %d died abnormally after %v", w.id, age)
		if age < s.cfg.MinRestartAge {
			s.unstable++
			s.metrics.UnstableRestarts(s.unstable)
			if s.maxUnstable > 0 && s.unstable >= s.maxUnstable {
				s.debugf("Too many unstable restarts (%d), giving up", s.unstable)
				s.state = StateFailed
				s.exit(1)
				return
			}
			s.debugf("Worker %d died too quickly, danger (%d of %d)",
				w.id, s.unstable, s.maxUnstable)
			s.danger = true
			s.armStabilizer()
			if !s.quitting() {
				s.after(s.cfg.RespawnDelay, func() {
					if !s.quitting() {
						s.resize(-1, nil)
					}
				})
			}
			return
		}
	} else {
		s.debugf("Worker %d exited", w.id)
	}
	if s.reg.len() < s.target && !s.resizing() && !s.quitting() {
		s.resize(-1, nil)
	}
}

// armStabilizer starts the chain that forgets old rapid deaths, unless
// it is already running.
func (s *Supervisor) armStabilizer() {
	if s.stabilizer != nil {
		return
	}
	s.stabilizer = s.after(s.cfg.UnstableWindow, s.stabilize)
}

// stabilize resets the unstable count once the fleet is at size, idle,
// and every worker has lived long enough to be trusted.
func (s *Supervisor) stabilize() {
	s.stabilizer = nil
	if s.reg.len() == s.target && !s.resizing() {
		stable := true
		for _, w := range s.reg.all() {
			if s.now().Sub(w.birth) < s.cfg.StableAge {
				stable = false
				break
			}
		}
		if stable {
			s.debugf("Fleet stable, forgetting %d unstable restarts", s.unstable)
			s.unstable = 0
			s.metrics.UnstableRestarts(0)
			return
		}
	}
	s.stabilizer = s.after(s.cfg.UnstableRecheck, s.stabilize)
}

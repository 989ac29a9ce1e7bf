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

// quit shuts the fleet down gracefully: a restart that spawns nothing,
// so every worker is disconnected in turn, followed by a resize to zero.
// Asking twice kills everything.
func (s *Supervisor) quit() {
	if s.quitting() {
		s.debugf("Forceful shutdown")
		for _, w := range s.reg.all() {
			s.kill(w)
		}
		s.state = StateKilled
		s.exit(1)
		return
	}
	s.debugf("Graceful shutdown")
	s.target = 0
	s.state = StateDraining
	if s.pass != nil {
		// the pass in flight stops spawning, and drains when done
		return
	}
	if e := s.restart(nil, true); e != nil {
		s.drain()
	}
}

// quitHard skips the graceful stage.
func (s *Supervisor) quitHard() {
	if !s.quitting() {
		s.state = StateDraining
	}
	s.quit()
}

func (s *Supervisor) drain() {
	s.resize(0, s.drained)
}

func (s *Supervisor) drained() {
	if s.reg.len() != 0 {
		// verification retries the resize; try again when it lands
		s.resizeCbs = append(s.resizeCbs, s.drained)
		return
	}
	s.debugf("Graceful shutdown complete")
	s.state = StateTerminated
	s.exit(0)
}

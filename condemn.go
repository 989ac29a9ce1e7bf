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

// condemn marks a worker for death and asks it to disconnect.  Calling
// it again never moves the condemnation time, nor disconnects twice.
func (s *Supervisor) condemn(w *Worker) {
	if !w.isCondemned() {
		s.debugf("Worker %d condemned", w.id)
		w.condemned = s.now()
	}
	if !w.graceful {
		s.debugf("Worker %d disconnecting", w.id)
		w.graceful = true
		if e := w.proc.Disconnect(); e != nil {
			s.debugf("Worker %d disconnect failed: %v", w.id, e)
		}
	}
}

func (s *Supervisor) shouldKill(w *Worker) bool {
	return w.isCondemned() && s.now().Sub(w.condemned) > s.cfg.KillGrace
}

func (s *Supervisor) shouldCondemn(w *Worker) bool {
	return !w.isCondemned() && (w.graceful || !w.connected)
}

// kill forcibly terminates a worker.  Its exit arrives as a normal event.
func (s *Supervisor) kill(w *Worker) {
	s.debugf("Worker %d killed", w.id)
	s.metrics.WorkerKilled()
	if e := w.proc.Terminate(true); e != nil {
		s.debugf("Worker %d kill failed: %v", w.id, e)
	}
}

// sweep kills condemned workers that outstayed their grace, and condemns
// those already on their way out.  It stands aside during a restart,
// which manages condemnation itself.
func (s *Supervisor) sweep() {
	if s.restarting() {
		return
	}
	for _, w := range s.reg.all() {
		if s.shouldKill(w) {
			s.kill(w)
		} else if s.shouldCondemn(w) {
			s.condemn(w)
		}
	}
}

func (s *Supervisor) armSweep() {
	s.sweeper = s.after(s.cfg.SweepInterval, func() {
		s.sweep()
		s.armSweep()
	})
}

// disconnected handles the loss of a worker's control channel.  A worker
// that does not exit within the kill grace is killed, once.
func (s *Supervisor) disconnected(w *Worker) {
	s.debugf("Worker %d disconnected", w.id)
	w.connected = false
	w.state = WorkerDisconnected
	if w.killTimer != nil {
		return
	}
	w.killTimer = s.after(s.cfg.KillGrace, func() {
		if s.reg.get(w.id) == w {
			s.kill(w)
		}
	})
}

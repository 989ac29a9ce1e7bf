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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCondemn(t *testing.T) {
	Convey("Given a fleet of workers that never leave on their own", t, func() {
		l := newFakeLauncher()
		l.autoExit = false
		l.surviveKill = true
		h := newHarness(t, testConfig(3), l)
		Reset(h.close)
		So(h.s.Start(), ShouldBeNil)
		So(waitFor(time.Second, func() bool {
			return len(h.s.Workers()) == 3
		}), ShouldBeTrue)

		Convey("Condemning twice keeps the first time and disconnects once", func() {
			var first, second time.Time
			h.loop(func() {
				w := h.s.reg.get(1)
				h.s.condemn(w)
				first = w.condemned
				time.Sleep(2 * time.Millisecond)
				h.s.condemn(w)
				second = w.condemned
			})
			So(first.IsZero(), ShouldBeFalse)
			So(second, ShouldEqual, first)
			So(l.disconnects(1), ShouldEqual, 1)

			w, e := h.s.Worker(1)
			So(e, ShouldBeNil)
			So(w.Condemned, ShouldNotBeNil)
			So(w.Graceful, ShouldBeTrue)
		})

		Convey("Sweeping kills only workers past their grace", func() {
			h.loop(func() {
				h.s.reg.get(1).condemned = time.Now().Add(-time.Second)
				h.s.reg.get(1).graceful = true
				h.s.reg.get(2).condemned = time.Now()
				h.s.reg.get(2).graceful = true
				h.s.sweep()
			})
			So(l.kills(1), ShouldEqual, 1)
			So(l.kills(2), ShouldEqual, 0)
			So(l.kills(3), ShouldEqual, 0)
		})

		Convey("Sweeping condemns workers that lost their channel", func() {
			h.loop(func() {
				h.s.reg.get(3).connected = false
				h.s.sweep()
			})
			w, e := h.s.Worker(3)
			So(e, ShouldBeNil)
			So(w.Condemned, ShouldNotBeNil)
			So(l.disconnects(3), ShouldEqual, 1)
			So(l.kills(3), ShouldEqual, 0)
		})

		Convey("Sweeping does nothing during a restart", func() {
			h.loop(func() {
				h.s.reg.get(1).condemned = time.Now().Add(-time.Second)
				h.s.reg.get(2).connected = false
				h.s.phase = PhaseRestarting
				h.s.sweep()
				h.s.phase = PhaseIdle
			})
			So(l.kills(1), ShouldEqual, 0)
			So(l.disconnects(2), ShouldEqual, 0)
		})

		Convey("A disconnect without an exit is killed exactly once", func() {
			l.send(2, Event{Kind: EventDisconnect})
			time.Sleep(50 * time.Millisecond)
			So(l.kills(2), ShouldEqual, 0)
			So(waitFor(time.Second, func() bool {
				return l.kills(2) > 0
			}), ShouldBeTrue)
			// several more grace periods
			time.Sleep(400 * time.Millisecond)
			So(l.kills(2), ShouldEqual, 1)

			w, e := h.s.Worker(2)
			So(e, ShouldBeNil)
			So(w.Connected, ShouldBeFalse)
			So(w.State, ShouldEqual, "disconnected")
		})

		Convey("Kill terminates a single worker on request", func() {
			So(h.s.Kill(2), ShouldBeNil)
			So(l.kills(2), ShouldEqual, 1)
			So(h.s.Kill(42), ShouldEqual, ErrNoWorker)
		})
	})

	Convey("Given a disconnecting worker that then exits", t, func() {
		l := newFakeLauncher()
		l.autoExit = false
		h := newHarness(t, testConfig(1), l)
		Reset(h.close)
		So(h.s.Start(), ShouldBeNil)
		So(waitFor(time.Second, func() bool {
			return len(h.s.Workers()) == 1
		}), ShouldBeTrue)

		Convey("The pending kill is canceled", func() {
			l.send(1, Event{Kind: EventDisconnect})
			l.send(1, Event{Kind: EventExit, Graceful: true})
			time.Sleep(300 * time.Millisecond)
			So(l.kills(1), ShouldEqual, 0)
		})
	})
}

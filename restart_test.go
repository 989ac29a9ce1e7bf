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
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRestart(t *testing.T) {
	Convey("Given a healthy fleet of three", t, func() {
		l := newFakeLauncher()
		h := newHarness(t, testConfig(3), l)
		Reset(h.close)
		So(h.s.Start(), ShouldBeNil)
		So(waitFor(time.Second, func() bool {
			return len(h.s.Workers()) == 3
		}), ShouldBeTrue)

		Convey("A restart replaces every worker", func() {
			var done atomic.Bool
			So(h.s.Restart(func() { done.Store(true) }), ShouldBeNil)
			So(waitFor(2*time.Second, done.Load), ShouldBeTrue)
			So(waitFor(time.Second, func() bool {
				return len(h.live()) == 3
			}), ShouldBeTrue)
			for _, id := range h.live() {
				So(id, ShouldBeGreaterThan, 3)
			}
			for id := 1; id <= 3; id++ {
				So(l.disconnects(id), ShouldEqual, 1)
			}
			So(h.s.Info().Phase, ShouldEqual, "idle")
		})

		Convey("A second restart is refused while one is running", func() {
			So(h.s.Restart(nil), ShouldBeNil)
			So(h.s.Restart(nil), ShouldEqual, ErrRestarting)
		})

		Convey("A resize during a restart waits for it", func() {
			var done atomic.Bool
			So(h.s.Restart(func() { done.Store(true) }), ShouldBeNil)
			So(h.s.Resize(4, nil), ShouldBeNil)
			h.sync()
			So(h.s.Info().Target, ShouldEqual, 4)
			So(waitFor(2*time.Second, done.Load), ShouldBeTrue)
			So(waitFor(time.Second, func() bool {
				return len(h.live()) == 4
			}), ShouldBeTrue)
		})
	})

	Convey("Given a fleet whose replacements must be made ready by hand", t, func() {
		l := newFakeLauncher()
		h := newHarness(t, testConfig(3), l)
		Reset(h.close)
		So(h.s.Start(), ShouldBeNil)
		So(waitFor(time.Second, func() bool {
			return len(h.s.Workers()) == 3
		}), ShouldBeTrue)
		l.mx.Lock()
		l.autoReady = false
		l.mx.Unlock()

		var done atomic.Bool
		So(h.s.Restart(func() { done.Store(true) }), ShouldBeNil)
		h.sync()
		So(l.count(), ShouldEqual, 4)

		Convey("Nothing old is touched before the first replacement proves itself", func() {
			l.ready(4)
			time.Sleep(50 * time.Millisecond)
			So(l.disconnects(1), ShouldEqual, 0)
			So(l.count(), ShouldEqual, 4)

			So(waitFor(time.Second, func() bool {
				return l.disconnects(1) == 1
			}), ShouldBeTrue)
			So(waitFor(time.Second, func() bool {
				return l.count() == 6
			}), ShouldBeTrue)

			Convey("And each later worker is retired when its replacement is ready", func() {
				So(l.disconnects(2), ShouldEqual, 0)
				l.ready(5)
				h.sync()
				So(l.disconnects(2), ShouldEqual, 1)
				So(l.disconnects(3), ShouldEqual, 0)
				l.ready(6)
				h.sync()
				So(l.disconnects(3), ShouldEqual, 1)
				So(waitFor(time.Second, done.Load), ShouldBeTrue)
			})
		})

		Convey("A replacement dying in the skeptic window aborts the restart", func() {
			l.ready(4)
			time.Sleep(20 * time.Millisecond)
			l.crash(4)
			time.Sleep(200 * time.Millisecond)

			So(done.Load(), ShouldBeFalse)
			So(l.disconnects(1), ShouldEqual, 0)
			So(l.count(), ShouldEqual, 4)
			So(h.live(), ShouldResemble, []int{1, 2, 3})

			w, e := h.s.Worker(1)
			So(e, ShouldBeNil)
			So(w.WillBeDead, ShouldBeFalse)
			So(w.Condemned, ShouldBeNil)
			So(h.s.Info().Phase, ShouldEqual, "idle")

			Convey("And a new restart can be started", func() {
				So(h.s.Restart(nil), ShouldBeNil)
			})
		})

		Convey("A replacement dying before it is ready aborts the restart", func() {
			l.crash(4)
			h.sync()
			So(h.s.Info().Phase, ShouldEqual, "idle")
			So(l.disconnects(1), ShouldEqual, 0)
			So(done.Load(), ShouldBeFalse)
		})
	})

	Convey("Given a restart that has to resize first", t, func() {
		l := newFakeLauncher()
		h := newHarness(t, testConfig(3), l)
		Reset(h.close)
		So(h.s.Start(), ShouldBeNil)
		So(waitFor(time.Second, func() bool {
			return len(h.s.Workers()) == 3
		}), ShouldBeTrue)
		l.mx.Lock()
		l.autoReady = false
		l.mx.Unlock()

		So(h.s.Resize(4, nil), ShouldBeNil)
		h.sync()
		So(l.count(), ShouldEqual, 4)
		var restarted atomic.Bool
		So(h.s.Restart(func() { restarted.Store(true) }), ShouldBeNil)
		h.sync()
		So(h.s.Info().Phase, ShouldEqual, "restart-resizing")

		Convey("A resize in that window is applied after the restart", func() {
			var resized atomic.Bool
			So(h.s.Resize(2, func() { resized.Store(true) }), ShouldBeNil)
			h.sync()
			So(h.s.Info().Target, ShouldEqual, 2)

			l.mx.Lock()
			l.autoReady = true
			l.mx.Unlock()
			l.ready(4)
			h.sync()
			So(resized.Load(), ShouldBeFalse)

			So(waitFor(2*time.Second, restarted.Load), ShouldBeTrue)
			So(waitFor(2*time.Second, resized.Load), ShouldBeTrue)
			So(waitFor(time.Second, func() bool {
				return len(h.live()) == 2
			}), ShouldBeTrue)
			for _, id := range h.live() {
				So(id, ShouldBeGreaterThan, 4)
			}
			info := h.s.Info()
			So(info.Size, ShouldEqual, 2)
			So(info.Phase, ShouldEqual, "idle")
			So(info.Danger, ShouldBeFalse)
		})
	})

	Convey("Given a fleet with a restart cooldown", t, func() {
		cfg := testConfig(2)
		cfg.RestartCooldown = time.Hour
		h := newHarness(t, cfg, newFakeLauncher())
		Reset(h.close)
		So(h.s.Start(), ShouldBeNil)
		So(waitFor(time.Second, func() bool {
			return len(h.s.Workers()) == 2
		}), ShouldBeTrue)

		Convey("A second restart inside the cooldown is refused", func() {
			var done atomic.Bool
			So(h.s.Restart(func() { done.Store(true) }), ShouldBeNil)
			So(waitFor(2*time.Second, done.Load), ShouldBeTrue)
			So(h.s.Info().CoolingDown, ShouldBeTrue)
			So(h.s.Restart(nil), ShouldEqual, ErrTooQuick)
		})
	})

	Convey("Given a fleet that cannot launch replacements", t, func() {
		l := newFakeLauncher()
		h := newHarness(t, testConfig(2), l)
		Reset(h.close)
		So(h.s.Start(), ShouldBeNil)
		So(waitFor(time.Second, func() bool {
			return len(h.s.Workers()) == 2
		}), ShouldBeTrue)
		l.setFail(true)

		Convey("The restart is aborted and the old workers stay", func() {
			var done atomic.Bool
			So(h.s.Restart(func() { done.Store(true) }), ShouldBeNil)
			h.sync()
			So(done.Load(), ShouldBeFalse)
			So(h.live(), ShouldResemble, []int{1, 2})
			So(l.disconnects(1), ShouldEqual, 0)
			So(h.s.Info().Phase, ShouldEqual, "idle")
		})
	})
}

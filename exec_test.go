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

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

// These tests rely on testdata/worker.sh, which is specific to POSIX
// systems.

package clustervisor

import (
	"log"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func testLauncher(t *testing.T, args ...string) *ExecLauncher {
	cfg := DefaultConfig()
	cfg.Exec = "testdata/worker.sh"
	cfg.Args = args
	l, e := NewExecLauncher(cfg, log.New(&testLog{t}, "", 0))
	So(e, ShouldBeNil)
	return l
}

func collect() (func(Event), chan Event) {
	ch := make(chan Event, 16)
	return func(ev Event) { ch <- ev }, ch
}

// expect waits for an event of the given kind, discarding others.
func expect(ch chan Event, kind EventKind) (Event, bool) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev, true
			}
		case <-timeout:
			return Event{}, false
		}
	}
}

func TestExecLauncher(t *testing.T) {
	Convey("A cooperative worker", t, func() {
		l := testLauncher(t, "listen")
		notify, ch := collect()
		p, e := l.Launch(1, []string{"EXTRA=1"}, notify)
		So(e, ShouldBeNil)
		So(p.Pid(), ShouldBeGreaterThan, 0)

		ev := <-ch
		So(ev.Kind, ShouldEqual, EventForked)

		ev, ok := expect(ch, EventMessage)
		So(ok, ShouldBeTrue)
		So(ev.Message, ShouldEqual, "hello")

		_, ok = expect(ch, EventListening)
		So(ok, ShouldBeTrue)

		Convey("Leaves gracefully when asked", func() {
			So(p.Disconnect(), ShouldBeNil)
			_, ok := expect(ch, EventDisconnect)
			So(ok, ShouldBeTrue)
			ev, ok := expect(ch, EventExit)
			So(ok, ShouldBeTrue)
			So(ev.Graceful, ShouldBeTrue)
		})
	})

	Convey("A worker announcing readiness on stdout", t, func() {
		cfg := DefaultConfig()
		cfg.Exec = "testdata/worker.sh"
		cfg.Args = []string{"pattern"}
		cfg.ReadyPattern = `ready on port \d+`
		l, e := NewExecLauncher(cfg, log.New(&testLog{t}, "", 0))
		So(e, ShouldBeNil)

		notify, ch := collect()
		p, e := l.Launch(2, nil, notify)
		So(e, ShouldBeNil)
		_, ok := expect(ch, EventListening)
		So(ok, ShouldBeTrue)

		So(p.Disconnect(), ShouldBeNil)
		ev, ok := expect(ch, EventExit)
		So(ok, ShouldBeTrue)
		So(ev.Graceful, ShouldBeTrue)
	})

	Convey("A crashing worker exits abnormally", t, func() {
		l := testLauncher(t, "fail")
		notify, ch := collect()
		_, e := l.Launch(3, nil, notify)
		So(e, ShouldBeNil)
		_, ok := expect(ch, EventDisconnect)
		So(ok, ShouldBeTrue)
		ev, ok := expect(ch, EventExit)
		So(ok, ShouldBeTrue)
		So(ev.Graceful, ShouldBeFalse)
	})

	Convey("A stubborn worker can be killed", t, func() {
		l := testLauncher(t, "stubborn")
		notify, ch := collect()
		p, e := l.Launch(4, nil, notify)
		So(e, ShouldBeNil)
		_, ok := expect(ch, EventListening)
		So(ok, ShouldBeTrue)

		So(p.Terminate(true), ShouldBeNil)
		ev, ok := expect(ch, EventExit)
		So(ok, ShouldBeTrue)
		So(ev.Graceful, ShouldBeFalse)
	})

	Convey("A missing executable fails to launch", t, func() {
		l := testLauncher(t)
		l.path = "/nonexistent/worker"
		_, e := l.Launch(5, nil, func(Event) {})
		So(e, ShouldNotBeNil)
	})
}

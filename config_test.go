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
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfig(t *testing.T) {
	Convey("The defaults are sane", t, func() {
		c := DefaultConfig()
		So(c.Size, ShouldEqual, runtime.NumCPU())
		So(c.ListeningWorkers, ShouldBeTrue)
		So(c.MinRestartAge, ShouldEqual, 10*time.Second)
		So(c.MaxUnstableRestarts, ShouldEqual, 5)
		So(c.KillGrace, ShouldEqual, 5*time.Second)
		So(c.SkepticWindow, ShouldEqual, 2*time.Second)
		So(c.RestartCooldown, ShouldEqual, 30*time.Second)
		So(c.Validate(), ShouldBeNil)

		_, _, e := c.Command()
		So(e, ShouldEqual, ErrNoExecutable)
	})

	Convey("A YAML manifest is decoded over the defaults", t, func() {
		c, e := NewConfigFromYAML(strings.NewReader(`
exec: ./server
args: ["-port", "0"]
size: 3
killGrace: 2s
listeningWorkers: false
`))
		So(e, ShouldBeNil)
		So(c.Exec, ShouldEqual, "./server")
		So(c.Args, ShouldResemble, []string{"-port", "0"})
		So(c.Size, ShouldEqual, 3)
		So(c.KillGrace, ShouldEqual, 2*time.Second)
		So(c.ListeningWorkers, ShouldBeFalse)
		So(c.SkepticWindow, ShouldEqual, 2*time.Second)

		path, args, e := c.Command()
		So(e, ShouldBeNil)
		So(filepath.IsAbs(path), ShouldBeTrue)
		So(args, ShouldResemble, []string{"-port", "0"})
	})

	Convey("A JSON manifest is decoded over the defaults", t, func() {
		c, e := NewConfigFromJSON(strings.NewReader(
			`{"exec": "/bin/true", "size": 2, "silent": true}`))
		So(e, ShouldBeNil)
		So(c.Exec, ShouldEqual, "/bin/true")
		So(c.Size, ShouldEqual, 2)
		So(c.Silent, ShouldBeTrue)
		So(c.SweepInterval, ShouldEqual, time.Minute)
	})

	Convey("Bad manifests are rejected", t, func() {
		_, e := NewConfigFromJSON(strings.NewReader(`{"size": -1}`))
		So(e, ShouldEqual, ErrBadSize)

		_, e = NewConfigFromYAML(strings.NewReader("killGrace: 0s\n"))
		So(errors.Is(e, ErrBadConfig), ShouldBeTrue)

		_, e = NewConfigFromYAML(strings.NewReader("readyPattern: \"[\"\n"))
		So(errors.Is(e, ErrBadConfig), ShouldBeTrue)

		_, e = NewConfigFromJSON(strings.NewReader(`{"size": `))
		So(e, ShouldNotBeNil)
	})

	Convey("LoadConfig picks the format by extension", t, func() {
		dir := t.TempDir()
		yml := filepath.Join(dir, "cluster.yaml")
		So(os.WriteFile(yml, []byte("size: 7\n"), 0644), ShouldBeNil)
		c, e := LoadConfig(yml)
		So(e, ShouldBeNil)
		So(c.Size, ShouldEqual, 7)

		js := filepath.Join(dir, "cluster.json")
		So(os.WriteFile(js, []byte(`{"size": 5}`), 0644), ShouldBeNil)
		c, e = LoadConfig(js)
		So(e, ShouldBeNil)
		So(c.Size, ShouldEqual, 5)

		_, e = LoadConfig(filepath.Join(dir, "missing.json"))
		So(e, ShouldNotBeNil)
	})
}

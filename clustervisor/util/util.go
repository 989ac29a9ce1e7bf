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

package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/gdamore/clustervisor/rest"
)

// Health is a coarse classification used to color things.
type Health int

const (
	Normal Health = iota
	Good
	Warn
	Bad
)

// WorkerHealth classifies a worker.  Workers on their way out are
// flagged, as are workers that have lost their control channel.
func WorkerHealth(w *rest.WorkerInfo) Health {
	switch {
	case w.State == "dead":
		return Bad
	case w.Condemned != nil || w.WillBeDead || w.State == "disconnected":
		return Warn
	case w.State == "listening":
		return Good
	}
	return Normal
}

// ClusterHealth classifies the supervisor as a whole.
func ClusterHealth(i *rest.Info) Health {
	switch {
	case i.State == "failed" || i.State == "killed":
		return Bad
	case i.Danger || i.Unstable > 0:
		return Warn
	case i.State != "running" || i.Phase != "idle" || i.Size != i.Target:
		return Warn
	case i.Size > 0:
		return Good
	}
	return Normal
}

// Status is a short description of a worker's condition.
func Status(w *rest.WorkerInfo) string {
	switch {
	case w.Condemned != nil:
		return "condemned"
	case w.WillBeDead:
		return "replacing"
	}
	return w.State
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// Describe summarizes the cluster in one line.
func Describe(i *rest.Info) string {
	s := fmt.Sprintf("%d/%d workers, %s, %s", i.Size, i.Target, i.State, i.Phase)
	if i.Danger {
		s += ", DANGER"
	}
	if i.MaxUnstable > 0 && i.Unstable > 0 {
		s += fmt.Sprintf(", %d/%d unstable", i.Unstable, i.MaxUnstable)
	}
	if i.CoolingDown {
		s += ", cooling down"
	}
	return s
}

type sorted []rest.WorkerInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	// departing workers go last, so the live fleet reads top down
	if (a.Condemned != nil) != (b.Condemned != nil) {
		return a.Condemned == nil
	}
	return a.Id < b.Id
}

func SortWorkers(items []rest.WorkerInfo) {
	sort.Sort(sorted(items))
}

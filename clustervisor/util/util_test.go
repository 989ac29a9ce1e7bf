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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gdamore/clustervisor/rest"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00:05", FormatDuration(5*time.Second))
	assert.Equal(t, "26:03:09", FormatDuration(26*time.Hour+3*time.Minute+9*time.Second))
}

func TestWorkerHealth(t *testing.T) {
	now := time.Now()
	assert.Equal(t, Good, WorkerHealth(&rest.WorkerInfo{State: "listening"}))
	assert.Equal(t, Normal, WorkerHealth(&rest.WorkerInfo{State: "online"}))
	assert.Equal(t, Warn, WorkerHealth(&rest.WorkerInfo{State: "disconnected"}))
	assert.Equal(t, Warn, WorkerHealth(&rest.WorkerInfo{State: "listening", Condemned: &now}))
	assert.Equal(t, Bad, WorkerHealth(&rest.WorkerInfo{State: "dead"}))

	assert.Equal(t, "condemned", Status(&rest.WorkerInfo{State: "listening", Condemned: &now}))
	assert.Equal(t, "replacing", Status(&rest.WorkerInfo{State: "listening", WillBeDead: true}))
	assert.Equal(t, "online", Status(&rest.WorkerInfo{State: "online"}))
}

func TestClusterHealth(t *testing.T) {
	i := &rest.Info{State: "running", Phase: "idle", Size: 2, Target: 2}
	assert.Equal(t, Good, ClusterHealth(i))
	assert.Equal(t, "2/2 workers, running, idle", Describe(i))

	i.Phase = "restarting"
	assert.Equal(t, Warn, ClusterHealth(i))

	i.Phase = "idle"
	i.Danger = true
	i.Unstable, i.MaxUnstable = 1, 10
	assert.Equal(t, Warn, ClusterHealth(i))
	assert.Equal(t, "2/2 workers, running, idle, DANGER, 1/10 unstable", Describe(i))

	i.State = "failed"
	assert.Equal(t, Bad, ClusterHealth(i))
}

func TestSortWorkers(t *testing.T) {
	now := time.Now()
	ws := []rest.WorkerInfo{{Id: 3}, {Id: 1, Condemned: &now}, {Id: 2}}
	SortWorkers(ws)
	assert.Equal(t, 2, ws[0].Id)
	assert.Equal(t, 3, ws[1].Id)
	assert.Equal(t, 1, ws[2].Id)
}

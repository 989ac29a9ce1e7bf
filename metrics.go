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

// Restart outcomes, as reported to RestartFinished.
const (
	RestartCompleted = "completed"
	RestartAborted   = "aborted"
	RestartRefused   = "refused"
)

// MetricsCollector receives supervisor events.  Every method is called
// from the event loop, so implementations must not block.
type MetricsCollector interface {
	// WorkerSpawned records a successful launch.
	WorkerSpawned()

	// LaunchFailed records a launch that failed outright.
	LaunchFailed()

	// WorkerExited records an exit; graceful is false for crashes.
	WorkerExited(graceful bool)

	// WorkerKilled records a forced termination.
	WorkerKilled()

	// UnstableRestarts records the current rapid death count.
	UnstableRestarts(n int)

	// FleetSize records the live and target worker counts.
	FleetSize(live, target int)

	// RestartFinished records how a restart request ended.
	RestartFinished(outcome string)
}

type noopMetricsCollector struct{}

func (noopMetricsCollector) WorkerSpawned()                 {}
func (noopMetricsCollector) LaunchFailed()                  {}
func (noopMetricsCollector) WorkerExited(graceful bool)     {}
func (noopMetricsCollector) WorkerKilled()                  {}
func (noopMetricsCollector) UnstableRestarts(n int)         {}
func (noopMetricsCollector) FleetSize(live, target int)     {}
func (noopMetricsCollector) RestartFinished(outcome string) {}

// NewNoopMetricsCollector returns a collector that discards everything.
func NewNoopMetricsCollector() MetricsCollector {
	return noopMetricsCollector{}
}

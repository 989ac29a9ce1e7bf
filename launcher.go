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

// EventKind identifies a lifecycle event reported by a Launcher for one
// of the processes it started.
type EventKind int

const (
	// EventForked is reported once the child process has been created.
	EventForked EventKind = iota

	// EventListening is reported when the worker announces that it is
	// ready to accept work.
	EventListening

	// EventDisconnect is reported when the control channel to the
	// worker is no longer usable.
	EventDisconnect

	// EventExit is reported exactly once, when the process terminates.
	EventExit

	// EventMessage carries an application message sent by the worker
	// over its control channel.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventForked:
		return "forked"
	case EventListening:
		return "listening"
	case EventDisconnect:
		return "disconnect"
	case EventExit:
		return "exit"
	case EventMessage:
		return "message"
	}
	return "unknown"
}

// Event is a single lifecycle notification.  Graceful is only meaningful
// for EventExit, and is true if the worker disconnected (on its own or
// at our request) before it terminated.  Message is only set for
// EventMessage.
type Event struct {
	Kind     EventKind
	Graceful bool
	Message  string
}

// Process is a handle to a running worker process.  The supervisor
// promises not to call these methods concurrently.
type Process interface {
	// Pid returns the operating system process id.
	Pid() int

	// Disconnect asks the worker to finish its work and exit.  The
	// worker is expected to close its control channel (which produces
	// EventDisconnect) and then exit (EventExit with Graceful set).
	Disconnect() error

	// Terminate delivers a signal to the process.  If force is true
	// the process is killed unconditionally, otherwise it is asked to
	// terminate.
	Terminate(force bool) error
}

// Launcher creates worker processes.  Notify may be called from any
// goroutine, at any time after Launch returns; the supervisor takes care
// of serializing the events into its own event loop.  A Launcher must
// deliver EventExit exactly once for every process it successfully
// launched.
type Launcher interface {
	Launch(id int, env []string, notify func(Event)) (Process, error)
}

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

// Package worker is the worker side of the clustervisor control channel.
// A worker process uses it to tell the supervisor that it is listening,
// to learn when it has been asked to disconnect, and to send messages.
//
// The channel is a pair of pipes inherited from the supervisor, one in
// each direction, carrying newline terminated commands:
//
//	listening           worker is ready for work
//	disconnect          worker is leaving (either direction)
//	message <text>      application message, worker to supervisor
package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	// EnvWorkerID holds the id the supervisor assigned to the worker.
	EnvWorkerID = "CLUSTERVISOR_WORKER_ID"

	// EnvControl holds the control descriptors, as "in,out".
	EnvControl = "CLUSTERVISOR_CONTROL"
)

const (
	CmdListening  = "listening"
	CmdDisconnect = "disconnect"
	CmdMessage    = "message"
)

var (
	ErrNotWorker    = errors.New("Not running as a worker")
	ErrDisconnected = errors.New("Control channel disconnected")
)

// IsWorker reports whether this process was launched by a supervisor.
func IsWorker() bool {
	return os.Getenv(EnvWorkerID) != ""
}

// ID returns the worker id, or zero outside a worker.
func ID() int {
	id, _ := strconv.Atoi(os.Getenv(EnvWorkerID))
	return id
}

// Channel is the worker's end of the control channel.
type Channel struct {
	in           io.ReadCloser
	out          io.WriteCloser
	closed       bool
	disconnected chan struct{}
	once         sync.Once
	lock         sync.Mutex
}

// NewChannel wraps an arbitrary pair of streams.
func NewChannel(in io.ReadCloser, out io.WriteCloser) *Channel {
	c := &Channel{
		in:           in,
		out:          out,
		disconnected: make(chan struct{}),
	}
	go c.reader()
	return c
}

// Open opens the control channel inherited from the supervisor.
func Open() (*Channel, error) {
	if !IsWorker() {
		return nil, ErrNotWorker
	}
	in, out := 3, 4
	if v := os.Getenv(EnvControl); v != "" {
		if _, e := fmt.Sscanf(v, "%d,%d", &in, &out); e != nil {
			return nil, fmt.Errorf("bad %s %q: %v", EnvControl, v, e)
		}
	}
	return NewChannel(
		os.NewFile(uintptr(in), "control-in"),
		os.NewFile(uintptr(out), "control-out")), nil
}

func (c *Channel) reader() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == CmdDisconnect {
			break
		}
	}
	// a request, or the supervisor went away; either way we are done
	c.once.Do(func() { close(c.disconnected) })
	c.in.Close()
}

func (c *Channel) send(line string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrDisconnected
	}
	_, e := io.WriteString(c.out, line+"\n")
	return e
}

// Listening tells the supervisor that this worker is ready.
func (c *Channel) Listening() error {
	return c.send(CmdListening)
}

// Send delivers an application message.  Newlines are not permitted.
func (c *Channel) Send(msg string) error {
	if strings.ContainsAny(msg, "\r\n") {
		return errors.New("message contains a newline")
	}
	return c.send(CmdMessage + " " + msg)
}

// Disconnect announces that the worker is leaving, and closes the
// channel.  The worker should then exit.
func (c *Channel) Disconnect() error {
	e := c.send(CmdDisconnect)
	c.lock.Lock()
	if !c.closed {
		c.closed = true
		if ce := c.out.Close(); e == nil {
			e = ce
		}
	}
	c.lock.Unlock()
	return e
}

// Disconnected is closed when the supervisor asks this worker to leave,
// or when the supervisor goes away.
func (c *Channel) Disconnected() <-chan struct{} {
	return c.disconnected
}

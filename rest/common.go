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

package rest

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/gdamore/clustervisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader and PollTimeHeader ask the server to hold a GET
	// until the resource no longer matches the etag, for up to the given
	// number of seconds.
	PollEtagHeader = "X-Clustervisor-Poll-Etag"
	PollTimeHeader = "X-Clustervisor-Poll-Time"

	// MaxPollTime caps long polls.
	MaxPollTime = 300 * time.Second
)

var ok struct{}

type (
	Info       = clustervisor.Info
	WorkerInfo = clustervisor.WorkerInfo
	LogRecord  = clustervisor.LogRecord
)

// SizeInfo is returned by GET /size.
type SizeInfo struct {
	Size   int `json:"size"`
	Target int `json:"target"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func etag(id int64) string {
	return fmt.Sprintf("\"%x\"", id)
}

// IsUnixAddr reports whether an admin address names a unix socket.
func IsUnixAddr(addr string) bool {
	return strings.HasPrefix(addr, "unix:") || strings.Contains(addr, "/")
}

// Listen opens the admin listener.  Unix socket paths may be given
// bare or prefixed with "unix:"; a stale socket is removed first.  The
// socket file is removed again when the listener is closed.
func Listen(addr string) (net.Listener, error) {
	if !IsUnixAddr(addr) {
		return net.Listen("tcp", addr)
	}
	path := strings.TrimPrefix(addr, "unix:")
	if fi, e := os.Stat(path); e == nil && fi.Mode()&os.ModeSocket != 0 {
		if c, e := net.Dial("unix", path); e == nil {
			c.Close()
			return nil, fmt.Errorf("%s: address in use", path)
		}
		os.Remove(path)
	}
	return net.Listen("unix", path)
}

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
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const (
	writeWait = 5 * time.Second

	// sessionBacklog is how many lines a session may fall behind
	// before it is dropped.
	sessionBacklog = 256
)

var errSessionGone = errors.New("debug session gone")

var sessionHelp = []string{
	"help         - display these commands",
	"size         - current cluster size",
	"connections  - number of debug sessions",
	"workers      - current workers",
	"pids         - map of id to pids",
	"ages         - map of id to worker ages",
	"states       - map of id to worker states",
	"resize N     - resize the cluster to N workers",
	"restart      - gracefully restart workers",
	"stop         - gracefully stop workers and supervisor",
	"kill         - forcefully kill workers and supervisor",
	"debug MSG    - send MSG to every debug session",
}

// session is one websocket debug console.  Every debug line is copied to
// it, and it accepts simple commands.  Lines are queued for a writer of
// their own, so a slow client never holds up whoever is logging.
type session struct {
	id   string
	h    *Handler
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newSession(h *Handler, c *websocket.Conn, backlog int) *session {
	return &session{
		id:   xid.New().String(),
		h:    h,
		conn: c,
		out:  make(chan []byte, backlog),
		done: make(chan struct{}),
	}
}

// Write implements io.Writer for the session's debug logger.  It never
// blocks.  An error here makes the debug sink drop the logger.
func (s *session) Write(b []byte) (int, error) {
	m := append([]byte(nil), b...)
	select {
	case <-s.done:
		return 0, errSessionGone
	default:
	}
	select {
	case s.out <- m:
		return len(b), nil
	default:
		// too far behind
		s.close()
		return 0, errSessionGone
	}
}

// writer drains the queue onto the connection until the session closes.
func (s *session) writer() {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if e := s.conn.WriteMessage(websocket.TextMessage, m); e != nil {
				s.close()
				return
			}
		}
	}
}

// close ends the session.  The reader sees the closed connection and
// cleans up.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *session) reply(v interface{}) {
	var b []byte
	switch v := v.(type) {
	case string:
		b = []byte(v)
	case error:
		b = []byte("error: " + v.Error())
	default:
		b, _ = json.MarshalIndent(v, "", "  ")
	}
	s.Write(b)
}

func (s *session) field(get func(WorkerInfo) interface{}) map[string]interface{} {
	m := make(map[string]interface{})
	for _, w := range s.h.s.Workers() {
		m[strconv.Itoa(w.Id)] = get(w)
	}
	return m
}

func (s *session) command(line string) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	sv := s.h.s
	switch verb {
	case "":
	case "PING":
		s.reply("PONG")
	case "help":
		s.reply(strings.Join(sessionHelp, "\n"))
	case "size":
		info := sv.Info()
		s.reply(&SizeInfo{Size: info.Size, Target: info.Target})
	case "connections":
		s.reply(atomic.LoadInt32(&s.h.sessions))
	case "workers":
		s.reply(sv.Workers())
	case "pids":
		s.reply(s.field(func(w WorkerInfo) interface{} { return w.Pid }))
	case "ages":
		s.reply(s.field(func(w WorkerInfo) interface{} { return w.Age.Milliseconds() }))
	case "states":
		s.reply(s.field(func(w WorkerInfo) interface{} { return w.State }))
	case "resize":
		n, e := strconv.Atoi(strings.TrimSpace(arg))
		if e != nil {
			s.reply("usage: resize N")
			return
		}
		if e := sv.Resize(n, nil); e != nil {
			s.reply(e)
		}
	case "restart":
		if e := sv.Restart(nil); e != nil {
			s.reply(e)
		}
	case "stop":
		if e := sv.Quit(); e != nil {
			s.reply(e)
		}
	case "kill":
		if e := sv.QuitHard(); e != nil {
			s.reply(e)
		}
	case "debug":
		sv.Debugf("%s", arg)
	default:
		s.reply(fmt.Sprintf("unknown command %q, try help", verb))
	}
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.s.Debugf("Debug session upgrade failed: %v", err)
		return
	}
	s := newSession(h, c, sessionBacklog)
	go s.writer()
	logger := log.New(s, "", 0)

	atomic.AddInt32(&h.sessions, 1)
	s.reply(fmt.Sprintf("Starting debug session #%s (help for commands)", s.id))
	h.s.AddDebugLogger(logger)
	h.s.Debugf("Debug session #%s connected", s.id)

	defer func() {
		h.s.DelDebugLogger(logger)
		atomic.AddInt32(&h.sessions, -1)
		s.close()
		h.s.Debugf("Debug session #%s closed", s.id)
	}()

	for {
		mt, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.TextMessage {
			s.command(string(msg))
		}
	}
}

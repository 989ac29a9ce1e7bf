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
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/context"

	"github.com/gdamore/clustervisor"
)

// stubSupervisor records what the handler asks of it.
type stubSupervisor struct {
	sync.Mutex
	info      clustervisor.Info
	workers   []clustervisor.WorkerInfo
	err       error
	resized   []int
	restarts  int
	quits     int
	hard      int
	killed    []int
	debug     []string
	loggers   []*log.Logger
	log       *clustervisor.Log
	changed   chan struct{}
	abandoned int
}

func newStub() *stubSupervisor {
	return &stubSupervisor{
		info: clustervisor.Info{Id: "stub", State: "running", Phase: "idle",
			Size: 2, Target: 2, Serial: 5},
		workers: []clustervisor.WorkerInfo{
			{Id: 1, Pid: 100, State: "listening", Age: 3 * time.Second, Connected: true},
			{Id: 2, Pid: 200, State: "online", Age: time.Second, Connected: true},
		},
		log:     clustervisor.NewLog(100),
		changed: make(chan struct{}),
	}
}

func (s *stubSupervisor) Info() clustervisor.Info {
	s.Lock()
	defer s.Unlock()
	return s.info
}

func (s *stubSupervisor) Workers() []clustervisor.WorkerInfo {
	s.Lock()
	defer s.Unlock()
	return append([]clustervisor.WorkerInfo(nil), s.workers...)
}

func (s *stubSupervisor) Worker(id int) (clustervisor.WorkerInfo, error) {
	for _, w := range s.Workers() {
		if w.Id == id {
			return w, nil
		}
	}
	return clustervisor.WorkerInfo{}, clustervisor.ErrNoWorker
}

func (s *stubSupervisor) WatchSerial(ctx context.Context, old int64, expire time.Duration) int64 {
	select {
	case <-s.changed:
	case <-time.After(expire):
	case <-ctx.Done():
		s.Lock()
		s.abandoned++
		s.Unlock()
	}
	return s.Info().Serial
}

func (s *stubSupervisor) abandonedCount() int {
	s.Lock()
	defer s.Unlock()
	return s.abandoned
}

// bump advances the serial and wakes a watcher.
func (s *stubSupervisor) bump() {
	s.Lock()
	s.info.Serial++
	s.Unlock()
	close(s.changed)
}

func (s *stubSupervisor) Resize(size int, done func()) error {
	s.Lock()
	defer s.Unlock()
	if size < 0 {
		return clustervisor.ErrBadSize
	}
	s.resized = append(s.resized, size)
	return s.err
}

func (s *stubSupervisor) Restart(done func()) error {
	s.Lock()
	defer s.Unlock()
	s.restarts++
	return s.err
}

func (s *stubSupervisor) Quit() error {
	s.Lock()
	defer s.Unlock()
	s.quits++
	return s.err
}

func (s *stubSupervisor) QuitHard() error {
	s.Lock()
	defer s.Unlock()
	s.hard++
	return s.err
}

func (s *stubSupervisor) Kill(id int) error {
	if _, e := s.Worker(id); e != nil {
		return e
	}
	s.Lock()
	defer s.Unlock()
	s.killed = append(s.killed, id)
	return nil
}

func (s *stubSupervisor) Debugf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	s.Lock()
	s.debug = append(s.debug, msg)
	loggers := append([]*log.Logger(nil), s.loggers...)
	s.Unlock()
	s.log.Write([]byte(msg))
	for _, l := range loggers {
		l.Print(msg)
	}
}

func (s *stubSupervisor) GetLog(last int64) ([]clustervisor.LogRecord, int64) {
	return s.log.GetRecords(last)
}

func (s *stubSupervisor) LogSince(after int64) ([]clustervisor.LogRecord, int64) {
	return s.log.Since(after)
}

func (s *stubSupervisor) WatchLog(ctx context.Context, old int64, expire time.Duration) int64 {
	return s.log.Watch(ctx, old, expire)
}

func (s *stubSupervisor) AddDebugLogger(l *log.Logger) {
	s.Lock()
	defer s.Unlock()
	s.loggers = append(s.loggers, l)
}

func (s *stubSupervisor) DelDebugLogger(l *log.Logger) {
	s.Lock()
	defer s.Unlock()
	for i, x := range s.loggers {
		if x == l {
			s.loggers = append(s.loggers[:i], s.loggers[i+1:]...)
			return
		}
	}
}

func (s *stubSupervisor) loggerCount() int {
	s.Lock()
	defer s.Unlock()
	return len(s.loggers)
}

func serve(t *testing.T, s Supervisor, opts ...HandlerOption) (*httptest.Server, *Client) {
	srv := httptest.NewServer(NewHandler(s, opts...))
	t.Cleanup(srv.Close)
	return srv, NewClient(nil, srv.URL)
}

func TestClientInfo(t *testing.T) {
	stub := newStub()
	_, c := serve(t, stub)

	info, err := c.Info()
	require.NoError(t, err)
	assert.Equal(t, "stub", info.Id)
	assert.Equal(t, 2, info.Size)
	assert.Equal(t, int64(5), info.Serial)

	ws, err := c.Workers()
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, 100, ws[0].Pid)

	w, err := c.Worker(2)
	require.NoError(t, err)
	assert.Equal(t, "online", w.State)

	_, err = c.Worker(9)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, err.(*Error).Code)

	sz, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, &SizeInfo{Size: 2, Target: 2}, sz)

	pids, err := c.Select("pids")
	require.NoError(t, err)
	assert.Equal(t, float64(200), pids["2"])

	states, err := c.Select("states")
	require.NoError(t, err)
	assert.Equal(t, "listening", states["1"])

	ages, err := c.Select("ages")
	require.NoError(t, err)
	assert.Equal(t, float64(3000), ages["1"])
}

func TestEtag(t *testing.T) {
	stub := newStub()
	srv, _ := serve(t, stub)

	res, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	res.Body.Close()
	tag := res.Header.Get("Etag")
	assert.Equal(t, `"5"`, tag)

	req, _ := http.NewRequest("GET", srv.URL+"/", nil)
	req.Header.Set("If-None-Match", tag)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotModified, res.StatusCode)
}

func TestLongPoll(t *testing.T) {
	stub := newStub()
	_, c := serve(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tag, err := c.Watch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, `"5"`, tag)

	time.AfterFunc(50*time.Millisecond, stub.bump)
	start := time.Now()
	ntag, err := c.Watch(ctx, tag)
	require.NoError(t, err)
	assert.Equal(t, `"6"`, ntag)
	assert.True(t, time.Since(start) >= 50*time.Millisecond)
}

func TestLongPollAbandoned(t *testing.T) {
	stub := newStub()
	_, c := serve(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Watch(ctx, `"5"`)
	require.Error(t, err)
	assert.Eventually(t, func() bool {
		return stub.abandonedCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCommands(t *testing.T) {
	stub := newStub()
	_, c := serve(t, stub)

	require.NoError(t, c.Resize(4))
	require.NoError(t, c.Restart())
	require.NoError(t, c.Stop())
	require.NoError(t, c.Kill())
	require.NoError(t, c.KillWorker(1))
	require.NoError(t, c.Debug("hello all"))

	assert.Equal(t, []int{4}, stub.resized)
	assert.Equal(t, 1, stub.restarts)
	assert.Equal(t, 1, stub.quits)
	assert.Equal(t, 1, stub.hard)
	assert.Equal(t, []int{1}, stub.killed)
	assert.Contains(t, stub.debug, "hello all")

	err := c.KillWorker(42)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, err.(*Error).Code)

	err = c.Resize(-1)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, err.(*Error).Code)

	stub.Lock()
	stub.err = clustervisor.ErrRestarting
	stub.Unlock()
	err = c.Restart()
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, err.(*Error).Code)
	assert.Equal(t, clustervisor.ErrRestarting.Error(), err.Error())

	stub.Lock()
	stub.err = clustervisor.ErrStopped
	stub.Unlock()
	err = c.Stop()
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, err.(*Error).Code)

	require.Error(t, c.Debug("   "))
}

func TestLog(t *testing.T) {
	stub := newStub()
	_, c := serve(t, stub)

	stub.Debugf("first")
	stub.Debugf("second")

	l, err := c.GetLog()
	require.NoError(t, err)
	require.Len(t, l.Records, 2)
	assert.Equal(t, "second", strings.TrimSpace(l.Records[1].Text))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	time.AfterFunc(50*time.Millisecond, func() { stub.Debugf("third") })
	l, err = c.WatchLog(ctx, l)
	require.NoError(t, err)
	require.Len(t, l.Records, 3)
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	require.NoError(t, err)

	stub := newStub()
	_, c := serve(t, stub, WithBasicAuth("admin", string(hash)))

	_, err = c.Info()
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, err.(*Error).Code)

	c.SetAuth("admin", "wrong")
	require.Error(t, c.Restart())
	assert.Equal(t, 0, stub.restarts)

	c.SetAuth("admin", "sekrit")
	_, err = c.Info()
	require.NoError(t, err)
	require.NoError(t, c.Restart())
	assert.Equal(t, 1, stub.restarts)
}

func TestMetrics(t *testing.T) {
	pmc := clustervisor.NewPrometheusMetricsCollector("")
	pmc.FleetSize(3, 4)

	srv, _ := serve(t, newStub(), WithGatherer(pmc.Registry()))
	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "clustervisor_workers_target 4")

	srv, _ = serve(t, newStub())
	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDebugStream(t *testing.T) {
	stub := newStub()
	srv, _ := serve(t, stub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/debug/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() string {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		return string(msg)
	}

	assert.Contains(t, read(), "Starting debug session")
	assert.Contains(t, read(), "connected")
	assert.Equal(t, 1, stub.loggerCount())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("PING")))
	assert.Equal(t, "PONG", read())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("size")))
	assert.Contains(t, read(), `"target": 2`)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("resize 3")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("debug over the wire")))
	assert.Contains(t, read(), "over the wire")
	assert.Equal(t, []int{3}, stub.resized)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("bogus")))
	assert.Contains(t, read(), "unknown command")

	conn.Close()
	assert.Eventually(t, func() bool { return stub.loggerCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestClientStream(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	require.NoError(t, err)
	stub := newStub()
	_, c := serve(t, stub, WithBasicAuth("admin", string(hash)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = c.DialStream(ctx)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, err.(*Error).Code)

	c.SetAuth("admin", "sekrit")
	conn, err := c.DialStream(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "Starting debug session")
}

func TestSessionDropsWhenBehind(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err == nil {
			conns <- c
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()
	conn := <-conns

	// no writer is running, so nothing drains the backlog
	s := newSession(nil, conn, 2)
	_, err = s.Write([]byte("one"))
	require.NoError(t, err)
	_, err = s.Write([]byte("two"))
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Write([]byte("three"))
	assert.Equal(t, errSessionGone, err)
	assert.True(t, time.Since(start) < writeWait)

	_, err = s.Write([]byte("four"))
	assert.Equal(t, errSessionGone, err)
	select {
	case <-s.done:
	default:
		t.Fatal("session still open")
	}
}

func TestSessionWriterDelivers(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err == nil {
			conns <- c
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	s := newSession(nil, <-conns, sessionBacklog)
	go s.writer()
	defer s.close()

	l := log.New(s, "", 0)
	l.Print("first")
	l.Print("second")

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	for _, want := range []string{"first", "second"} {
		_, msg, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want+"\n", string(msg))
	}
}

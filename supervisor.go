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
	"context"
	"io"
	"log"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/google/uuid"

	"github.com/gdamore/clustervisor/worker"
)

// Phase is what the supervisor is currently busy with.  Resizing and
// restarting are mutually exclusive, except that a restart may wait for
// a resize to finish first.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResizing
	PhaseRestarting
	PhaseRestartResizing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseResizing:
		return "resizing"
	case PhaseRestarting:
		return "restarting"
	case PhaseRestartResizing:
		return "restart-resizing"
	}
	return "unknown"
}

// State is the lifecycle of the supervisor itself.
type State int

const (
	StateNew State = iota
	StateRunning
	StateDraining
	StateTerminated
	StateKilled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	case StateKilled:
		return "killed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Info is a snapshot of the supervisor.
type Info struct {
	Id          string    `json:"id"`
	Pid         int       `json:"pid"`
	State       string    `json:"state"`
	Phase       string    `json:"phase"`
	Target      int       `json:"target"`
	Size        int       `json:"size"`
	Danger      bool      `json:"danger"`
	Unstable    int       `json:"unstable"`
	MaxUnstable int       `json:"maxUnstable"`
	CoolingDown bool      `json:"coolingDown"`
	Serial      int64     `json:"serial,string"`
	CreateTime  time.Time `json:"created"`
	UpdateTime  time.Time `json:"updated"`
}

// timer is a cancellable timer whose callback runs on the event loop.
type timer struct {
	t       *time.Timer
	stopped bool
}

// stop is safe on a nil timer, and on one that already fired.  Only call
// it from the event loop.
func (t *timer) stop() {
	if t == nil {
		return
	}
	t.stopped = true
	t.t.Stop()
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher replaces the default exec based launcher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		s.launcher = l
	}
}

// WithExit replaces os.Exit.  The supervisor stops processing events
// after calling it.
func WithExit(fn func(code int)) Option {
	return func(s *Supervisor) {
		s.exitFn = fn
	}
}

// WithMetrics installs a metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithOnMessage installs a handler for application messages sent by
// workers over their control channel.  It runs on the event loop.
func WithOnMessage(fn func(id int, msg string)) Option {
	return func(s *Supervisor) {
		s.onMessage = fn
	}
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// Supervisor keeps a fleet of identical worker processes at a target
// size.  Every piece of mutable state is owned by a single event loop;
// launcher events, timers, and API calls are all posted to it.
type Supervisor struct {
	cfg       Config
	id        string
	launcher  Launcher
	metrics   MetricsCollector
	exitFn    func(int)
	onMessage func(int, string)
	logger    *log.Logger
	log       *Log
	mlog      *MultiLogger
	mbox      *queue.Queue
	done      chan struct{}
	startOnce sync.Once
	started   atomic.Bool

	// owned by the event loop
	reg           *registry
	target        int
	phase         Phase
	state         State
	danger        bool
	unstable      int
	maxUnstable   int
	cooldown      *timer
	resizeCbs     []func()
	pendingResize bool
	deferredCbs   []func()
	pass          *restartPass
	stabilizer    *timer
	sweeper       *timer
	timers        map[*timer]struct{}
	exited        bool

	// published snapshot
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
	serial     int64
	info       Info
	workers    []WorkerInfo
	createTime time.Time
	updateTime time.Time
}

// NewSupervisor validates the configuration and prepares a supervisor.
// Nothing is launched until Start is called.
func NewSupervisor(cfg Config, opts ...Option) (*Supervisor, error) {
	if worker.IsWorker() {
		return nil, ErrIsWorker
	}
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	s := &Supervisor{
		cfg:    cfg,
		id:     uuid.New().String(),
		exitFn: os.Exit,
		mbox:   queue.New(64),
		done:   make(chan struct{}),
		reg:    newRegistry(),
		target: cfg.Size,
		timers: make(map[*timer]struct{}),
		cvs:    make(map[*sync.Cond]bool),
		// Serial numbers start at the current time, so that clients
		// caching by serial notice a restarted supervisor.
		serial: time.Now().UnixNano(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = NewNoopMetricsCollector()
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	s.log = NewLog(MaxLogRecords)
	s.mlog = NewMultiLogger()
	s.mlog.AddLogger(log.New(s.log, "", 0))
	s.mlog.AddLogger(s.logger)

	if s.launcher == nil {
		l, e := NewExecLauncher(cfg, s.mlog.Logger())
		if e != nil {
			return nil, e
		}
		s.launcher = l
	}

	s.maxUnstable = cfg.MaxUnstableRestarts * cfg.Size
	if cfg.Size == 0 {
		s.maxUnstable = cfg.MaxUnstableRestarts
	}
	s.createTime = time.Now()
	s.updateTime = s.createTime
	s.info = s.snapshotInfo()
	return s, nil
}

// post queues fn for execution on the event loop.  It fails once the
// supervisor has stopped.
func (s *Supervisor) post(fn func()) error {
	if e := s.mbox.Put(fn); e != nil {
		return ErrStopped
	}
	return nil
}

// call runs fn on the event loop and waits for its result.
func (s *Supervisor) call(fn func() error) error {
	ch := make(chan error, 1)
	if e := s.post(func() { ch <- fn() }); e != nil {
		return e
	}
	select {
	case e := <-ch:
		return e
	case <-s.done:
		// the loop may have run it just before stopping
		select {
		case e := <-ch:
			return e
		default:
			return ErrStopped
		}
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	for {
		items, e := s.mbox.Get(32)
		if e != nil {
			return
		}
		for _, item := range items {
			item.(func())()
			if s.exited {
				s.publish()
				return
			}
		}
		s.publish()
	}
}

// after schedules fn on the event loop.  Stopping the returned timer
// guarantees fn will not run, even if the clock already fired.
func (s *Supervisor) after(d time.Duration, fn func()) *timer {
	t := &timer{}
	s.timers[t] = struct{}{}
	t.t = time.AfterFunc(d, func() {
		s.post(func() {
			delete(s.timers, t)
			if !t.stopped {
				t.stopped = true
				fn()
			}
		})
	})
	return t
}

func (s *Supervisor) stopTimers() {
	for t := range s.timers {
		t.stop()
	}
	s.timers = make(map[*timer]struct{})
}

func (s *Supervisor) now() time.Time {
	return time.Now()
}

func (s *Supervisor) resizing() bool {
	return s.phase == PhaseResizing || s.phase == PhaseRestartResizing
}

func (s *Supervisor) restarting() bool {
	return s.phase == PhaseRestarting || s.phase == PhaseRestartResizing
}

func (s *Supervisor) quitting() bool {
	return s.state >= StateDraining
}

// exit hands the process over to the exit function, and stops the event
// loop.  Workers are not touched here; callers decide their fate first.
func (s *Supervisor) exit(code int) {
	if s.exited {
		return
	}
	s.exited = true
	s.stopTimers()
	s.logf("*** Clustervisor exiting (%d) ***", code)
	s.publish()
	s.exitFn(code)
	s.mbox.Dispose()
}

func (s *Supervisor) debugf(format string, v ...interface{}) {
	s.mlog.Logger().Printf(format, v...)
}

func (s *Supervisor) logf(format string, v ...interface{}) {
	s.mlog.Logger().Printf(format, v...)
}

func (s *Supervisor) snapshotInfo() Info {
	return Info{
		Id:          s.id,
		Pid:         os.Getpid(),
		State:       s.state.String(),
		Phase:       s.phase.String(),
		Target:      s.target,
		Size:        s.reg.len(),
		Danger:      s.danger,
		Unstable:    s.unstable,
		MaxUnstable: s.maxUnstable,
		CoolingDown: s.cooldown != nil,
	}
}

// publish copies loop state into the snapshot read by other goroutines.
// The serial is bumped, and watchers woken, only when something changed.
func (s *Supervisor) publish() {
	info := s.snapshotInfo()
	ws := s.reg.all()
	workers := make([]WorkerInfo, 0, len(ws))
	for _, w := range ws {
		workers = append(workers, w.info())
	}
	s.metrics.FleetSize(len(ws), s.target)

	s.mx.Lock()
	defer s.mx.Unlock()
	if reflect.DeepEqual(info, s.info) && reflect.DeepEqual(workers, s.workers) {
		return
	}
	s.info = info
	s.workers = workers
	s.serial++
	s.updateTime = time.Now()
	for cv := range s.cvs {
		cv.Broadcast()
	}
}

// Start launches the initial fleet and begins sweeping.
func (s *Supervisor) Start() error {
	e := ErrAlreadyStarted
	s.startOnce.Do(func() {
		e = nil
		s.started.Store(true)
		go s.run()
		s.post(func() {
			s.state = StateRunning
			s.logf("*** Clustervisor %s starting, %d workers ***", s.id, s.cfg.Size)
			s.armSweep()
			s.resize(s.cfg.Size, nil)
		})
	})
	return e
}

// admit runs fn on the loop once the supervisor is up.
func (s *Supervisor) admit(fn func() error) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	return s.call(fn)
}

// Resize changes the target size.  Done, if not nil, is called on the
// event loop when the fleet next converges.
func (s *Supervisor) Resize(size int, done func()) error {
	if size < 0 {
		return ErrBadSize
	}
	return s.admit(func() error {
		if s.quitting() {
			return ErrQuitting
		}
		s.resize(size, done)
		return nil
	})
}

// Restart replaces every worker, one at a time.  Done, if not nil, is
// called on the event loop when the restart completes successfully.
func (s *Supervisor) Restart(done func()) error {
	return s.admit(func() error {
		if s.quitting() {
			return ErrQuitting
		}
		return s.restart(done, false)
	})
}

// Quit begins a graceful shutdown.  A second call escalates to a hard
// shutdown.
func (s *Supervisor) Quit() error {
	return s.admit(func() error {
		s.quit()
		return nil
	})
}

// QuitHard shuts down immediately, killing every worker.
func (s *Supervisor) QuitHard() error {
	return s.admit(func() error {
		s.quitHard()
		return nil
	})
}

// Kill forcibly terminates a single worker.
func (s *Supervisor) Kill(id int) error {
	return s.admit(func() error {
		w := s.reg.get(id)
		if w == nil {
			return ErrNoWorker
		}
		s.kill(w)
		return nil
	})
}

// Close stops the event loop.  Workers are left alone; use Quit to shut
// the fleet down.
func (s *Supervisor) Close() {
	s.startOnce.Do(func() { go s.run() })
	if s.post(func() {
		s.stopTimers()
		s.exited = true
		s.mbox.Dispose()
	}) == nil {
		<-s.done
	}
}

// Done is closed once the event loop has stopped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Id returns the unique id of this supervisor instance.
func (s *Supervisor) Id() string {
	return s.id
}

// Config returns the configuration the supervisor was created with.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// Info returns a snapshot of the supervisor.
func (s *Supervisor) Info() Info {
	s.mx.Lock()
	i := s.info
	i.Serial = s.serial
	i.CreateTime = s.createTime
	i.UpdateTime = s.updateTime
	s.mx.Unlock()
	return i
}

// Workers returns snapshots of the live workers, oldest first.
func (s *Supervisor) Workers() []WorkerInfo {
	s.mx.Lock()
	rv := make([]WorkerInfo, len(s.workers))
	copy(rv, s.workers)
	s.mx.Unlock()
	for i := range rv {
		rv[i].Age = time.Since(rv[i].Birth)
	}
	return rv
}

// Worker returns the snapshot of a single worker.
func (s *Supervisor) Worker(id int) (WorkerInfo, error) {
	for _, w := range s.Workers() {
		if w.Id == id {
			return w, nil
		}
	}
	return WorkerInfo{}, ErrNoWorker
}

// Serial returns the snapshot serial number.  It changes whenever any
// published state does.
func (s *Supervisor) Serial() int64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.serial
}

// WatchSerial waits for the serial to differ from old, for expire to
// elapse, or for ctx to be done, and returns the current serial.  An
// expire of zero is a poll.
func (s *Supervisor) WatchSerial(ctx context.Context, old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&s.mx)
	var timer *time.Timer
	wake := func() {
		s.mx.Lock()
		expired = true
		cv.Broadcast()
		s.mx.Unlock()
	}

	if expire > 0 {
		timer = time.AfterFunc(expire, wake)
	} else {
		expired = true
	}
	defer context.AfterFunc(ctx, wake)()

	s.mx.Lock()
	s.cvs[cv] = true
	for s.serial == old && !expired {
		cv.Wait()
	}
	delete(s.cvs, cv)
	rv := s.serial
	s.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// Debugf writes a line to the debug sink.  Safe from any goroutine.
func (s *Supervisor) Debugf(format string, v ...interface{}) {
	s.debugf(format, v...)
}

// AddDebugLogger adds a destination to the debug sink.
func (s *Supervisor) AddDebugLogger(l *log.Logger) {
	s.mlog.AddLogger(l)
}

// DelDebugLogger removes a destination from the debug sink.
func (s *Supervisor) DelDebugLogger(l *log.Logger) {
	s.mlog.DelLogger(l)
}

// SetLogger replaces the primary logger.  The in-memory log is kept.
func (s *Supervisor) SetLogger(l *log.Logger) {
	if s.logger != nil {
		s.mlog.DelLogger(s.logger)
	}
	s.logger = l
	s.mlog.AddLogger(l)
}

// SetLogWriter is a convenience for SetLogger.
func (s *Supervisor) SetLogWriter(w io.Writer) {
	s.SetLogger(log.New(w, "", log.LstdFlags))
}

func (s *Supervisor) GetLog(last int64) ([]LogRecord, int64) {
	return s.log.GetRecords(last)
}

func (s *Supervisor) LogSince(after int64) ([]LogRecord, int64) {
	return s.log.Since(after)
}

func (s *Supervisor) WatchLog(ctx context.Context, old int64, expire time.Duration) int64 {
	return s.log.Watch(ctx, old, expire)
}

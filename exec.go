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
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gdamore/clustervisor/worker"
)

// ExecLauncher starts workers as child processes running the configured
// executable.  Each child inherits a control channel on descriptors 3
// (supervisor to worker) and 4 (worker to supervisor); see package worker.
type ExecLauncher struct {
	path   string
	args   []string
	dir    string
	silent bool
	ready  *regexp.Regexp
	logger *log.Logger
}

// NewExecLauncher builds a launcher from the configuration.  Child output
// is relayed to logger, unless the configuration says to be silent.
func NewExecLauncher(cfg Config, logger *log.Logger) (*ExecLauncher, error) {
	path, args, e := cfg.Command()
	if e != nil {
		return nil, e
	}
	l := &ExecLauncher{
		path:   path,
		args:   args,
		dir:    cfg.Dir,
		silent: cfg.Silent,
		logger: logger,
	}
	if cfg.ReadyPattern != "" {
		if l.ready, e = regexp.Compile(cfg.ReadyPattern); e != nil {
			return nil, e
		}
	}
	if l.logger == nil {
		l.logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return l, nil
}

type execProcess struct {
	id       int
	cmd      *exec.Cmd
	ctl      *os.File
	notify   func(Event)
	logger   *log.Logger
	ready    *regexp.Regexp
	silent   bool
	readyOne sync.Once

	lock     sync.Mutex
	graceful bool
	closed   bool

	waiter sync.WaitGroup
}

// Launch starts a worker.  EventForked is reported before Launch returns.
func (l *ExecLauncher) Launch(id int, env []string, notify func(Event)) (Process, error) {
	// child reads cr, we write pw; we read pr, child writes cw
	cr, pw, e := os.Pipe()
	if e != nil {
		return nil, e
	}
	pr, cw, e := os.Pipe()
	if e != nil {
		cr.Close()
		pw.Close()
		return nil, e
	}

	cmd := exec.Command(l.path, l.args...)
	cmd.Dir = l.dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("%s=%d", worker.EnvWorkerID, id),
		fmt.Sprintf("%s=3,4", worker.EnvControl))
	cmd.ExtraFiles = []*os.File{cr, cw}

	p := &execProcess{
		id:     id,
		cmd:    cmd,
		ctl:    pw,
		notify: notify,
		logger: l.logger,
		ready:  l.ready,
		silent: l.silent,
	}

	var pipes []io.ReadCloser
	if !l.silent || l.ready != nil {
		stdout, e := cmd.StdoutPipe()
		if e != nil {
			l.logger.Printf("Failed to capture stdout: %v", e)
		} else {
			pipes = append(pipes, stdout)
			p.waiter.Add(1)
			go p.doLog(stdout, "stdout> ", true)
		}
	}
	if !l.silent {
		stderr, e := cmd.StderrPipe()
		if e != nil {
			l.logger.Printf("Failed to capture stderr: %v", e)
		} else {
			pipes = append(pipes, stderr)
			p.waiter.Add(1)
			go p.doLog(stderr, "stderr> ", false)
		}
	}

	if e := cmd.Start(); e != nil {
		for _, f := range []*os.File{cr, cw, pr, pw} {
			f.Close()
		}
		// unblock the log readers
		for _, r := range pipes {
			r.Close()
		}
		return nil, e
	}
	cr.Close()
	cw.Close()

	notify(Event{Kind: EventForked})

	p.waiter.Add(1)
	go p.readControl(pr)
	go p.doWait()
	return p, nil
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

// Disconnect asks the worker to leave, and closes our end of the channel.
func (p *execProcess) Disconnect() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.graceful = true
	if p.closed {
		return nil
	}
	p.closed = true
	_, e := io.WriteString(p.ctl, worker.CmdDisconnect+"\n")
	if ce := p.ctl.Close(); e == nil {
		e = ce
	}
	return e
}

func (p *execProcess) Terminate(force bool) error {
	if force {
		return p.cmd.Process.Kill()
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) doLog(r io.Reader, prefix string, checkReady bool) {
	defer p.waiter.Done()
	prefix = fmt.Sprintf("[worker %d] %s", p.id, prefix)
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			line = strings.TrimRight(line, "\r\n")
			if !p.silent {
				p.logger.Print(prefix, line)
			}
			if checkReady && p.ready != nil && p.ready.MatchString(line) {
				p.readyOne.Do(func() {
					p.notify(Event{Kind: EventListening})
				})
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *execProcess) readControl(r *os.File) {
	defer p.waiter.Done()
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd, arg, _ := strings.Cut(scanner.Text(), " ")
		switch cmd {
		case worker.CmdListening:
			p.readyOne.Do(func() {
				p.notify(Event{Kind: EventListening})
			})
		case worker.CmdDisconnect:
			p.lock.Lock()
			p.graceful = true
			p.lock.Unlock()
		case worker.CmdMessage:
			p.notify(Event{Kind: EventMessage, Message: arg})
		default:
			p.logger.Printf("[worker %d] bad control command %q", p.id, cmd)
		}
	}
	p.notify(Event{Kind: EventDisconnect})
}

func (p *execProcess) doWait() {
	// Readers finish first: the output must be drained before Wait, and
	// the disconnect has to be reported ahead of the exit.  A grandchild
	// holding the descriptors open must not wedge us, though.
	drained := make(chan struct{})
	go func() {
		p.waiter.Wait()
		close(drained)
	}()
	var e error
	waited := make(chan struct{})
	go func() {
		e = p.cmd.Wait()
		close(waited)
	}()
	<-waited
	select {
	case <-drained:
	case <-time.After(time.Second):
	}

	p.lock.Lock()
	graceful := p.graceful
	if !p.closed {
		p.closed = true
		p.ctl.Close()
	}
	p.lock.Unlock()
	if e != nil && !graceful {
		p.logger.Printf("[worker %d] %v", p.id, e)
	}
	p.notify(Event{Kind: EventExit, Graceful: graceful})
}

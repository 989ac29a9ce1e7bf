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
	"log"
	"strings"
	"sync"
)

// MultiLogger is the debug sink.  It implements an io.Writer that breaks
// its input into lines and fans each line out to every registered logger.
// The registered loggers keep their own Prefix and Flags.  A logger whose
// writer fails is dropped, so that a vanished debug session (for example
// a closed websocket) never stalls the supervisor.
type MultiLogger struct {
	log     *log.Logger
	loggers []*log.Logger
	lock    sync.Mutex
}

// Write implements io.Writer.  Input is expected to be newline delimited
// text, delivered a whole line at a time, which is what log.Logger does.
func (l *MultiLogger) Write(b []byte) (int, error) {
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	l.lock.Lock()
	for _, line := range lines {
		alive := l.loggers[:0]
		for _, logger := range l.loggers {
			if e := logger.Output(2, line); e == nil {
				alive = append(alive, logger)
			}
		}
		// clear the tail so dropped loggers can be collected
		for i := len(alive); i < len(l.loggers); i++ {
			l.loggers[i] = nil
		}
		l.loggers = alive
	}
	l.lock.Unlock()
	return len(b), nil
}

// AddLogger registers a destination.  A logger can only be added once.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.loggers {
		if x == logger {
			return
		}
	}
	l.loggers = append(l.loggers, logger)
}

// DelLogger removes a destination.
func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for i, x := range l.loggers {
		if x == logger {
			l.loggers = append(l.loggers[:i], l.loggers[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered destinations.
func (l *MultiLogger) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.loggers)
}

// Logger returns a logger that writes to every destination.
func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, "", 0)
	return m
}

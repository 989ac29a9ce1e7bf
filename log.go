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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log keeps the most recent debug lines in a ring, so that they can be
// served to administrative clients after the fact.
type Log struct {
	records []LogRecord
	next    int // total lines ever written; next%len(records) is the slot
	id      int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

// Write implements io.Writer, one record per line.
func (l *Log) Write(b []byte) (int, error) {
	str := strings.TrimRight(string(b), "\n")
	now := time.Now()
	l.mx.Lock()
	for _, line := range strings.Split(str, "\n") {
		r := &l.records[l.next%len(l.records)]
		l.id++
		r.Id = l.id
		r.Time = now
		r.Text = line
		l.next++
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
	return len(b), nil
}

// Clear discards every record.  The id moves forward to a fresh value so
// that cached copies held by clients are invalidated.
func (l *Log) Clear() {
	l.mx.Lock()
	l.next = 0
	l.id = time.Now().UnixNano()
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
}

// GetRecords returns the retained records, oldest first, together with
// an id suitable for use as an Etag.  If last matches the current id, nil
// is returned without copying anything.
func (l *Log) GetRecords(last int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	return l.since(0), l.id
}

// Since returns only the retained records with an id greater than after.
func (l *Log) Since(after int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.since(after), l.id
}

func (l *Log) since(after int64) []LogRecord {
	cnt := l.next
	if cnt > len(l.records) {
		cnt = len(l.records)
	}
	recs := make([]LogRecord, 0, cnt)
	for i := l.next - cnt; i < l.next; i++ {
		if r := l.records[i%len(l.records)]; r.Id > after {
			recs = append(recs, r)
		}
	}
	return recs
}

// Watch waits until the log id differs from last, until expire has
// elapsed, or until ctx is done, and returns the current id.  An expire
// of zero is a poll.
func (l *Log) Watch(ctx context.Context, last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	wake := func() {
		l.mx.Lock()
		expired = true
		cv.Broadcast()
		l.mx.Unlock()
	}
	if expire > 0 {
		timer = time.AfterFunc(expire, wake)
	} else {
		expired = true
	}
	defer context.AfterFunc(ctx, wake)()

	l.mx.Lock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	last = l.id
	l.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog returns a Log retaining up to max records.  Non-positive values
// select MaxLogRecords.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		records: make([]LogRecord, max),
		id:      time.Now().UnixNano(),
		cvs:     make(map[*sync.Cond]bool),
	}
}

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
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/context"
)

// LogInfo is a cached copy of the supervisor log.
type LogInfo struct {
	etag    string
	Records []LogRecord
}

// WorkersInfo is a cached copy of the worker list.
type WorkersInfo struct {
	etag    string
	Workers []WorkerInfo
}

type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)

	// Cached data
	info    *Info
	etag    string
	workers *WorkersInfo
	log     *LogInfo
	lock    sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

// Watch waits for the supervisor snapshot to change from etag, and
// returns the new etag.  An empty etag returns the current one at once.
func (c *Client) Watch(ctx context.Context, etag string) (string, error) {
	c.lock.Lock()
	if c.info != nil && etag == "" {
		etag = c.etag
		c.lock.Unlock()
		return etag, nil
	}
	c.lock.Unlock()

	info := &Info{}
	ntag, e := c.poll(ctx, c.base+"/", etag, 300, info)
	if e != nil {
		return "", e
	}
	if ntag != "" {
		c.lock.Lock()
		c.info = info
		c.etag = ntag
		c.lock.Unlock()
		etag = ntag
	}
	return etag, nil
}

// Info returns the supervisor snapshot.
func (c *Client) Info() (*Info, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info := &Info{}
	etag, e := c.poll(ctx, c.base+"/", "", 0, info)
	if e != nil {
		return nil, e
	}
	c.lock.Lock()
	c.info = info
	c.etag = etag
	c.lock.Unlock()
	return info, nil
}

func (c *Client) pollWorkers(ctx context.Context, secs int, last *WorkersInfo) (*WorkersInfo, error) {
	c.lock.Lock()
	cached := c.workers
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if cached != nil && last.etag != cached.etag {
		// the cache is already newer than what the caller has
		return cached, nil
	} else {
		otag = last.etag
	}

	v := &WorkersInfo{}
	etag, e := c.poll(ctx, c.base+"/workers", otag, secs, &v.Workers)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.workers = v
	c.lock.Unlock()
	return v, nil
}

// Workers returns the current worker list.
func (c *Client) Workers() ([]WorkerInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, e := c.pollWorkers(ctx, 0, nil)
	if e != nil {
		return nil, e
	}
	return v.Workers, nil
}

// WatchWorkers waits for the worker list to differ from last.  Pass nil
// to fetch it without waiting.
func (c *Client) WatchWorkers(ctx context.Context, last *WorkersInfo) (*WorkersInfo, error) {
	return c.pollWorkers(ctx, 300, last)
}

// Worker returns a single worker.
func (c *Client) Worker(id int) (*WorkerInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v := &WorkerInfo{}
	if _, e := c.poll(ctx, c.base+"/workers/"+strconv.Itoa(id), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

// Size returns the live and target worker counts.
func (c *Client) Size() (*SizeInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v := &SizeInfo{}
	if _, e := c.poll(ctx, c.base+"/size", "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

// Select returns a map of worker id to one of "pids", "ages" or "states".
func (c *Client) Select(field string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v := make(map[string]interface{})
	if _, e := c.poll(ctx, c.base+"/"+field, "", 0, &v); e != nil {
		return nil, e
	}
	return v, nil
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {

	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", responseError(res)
	}
	if e := json.NewDecoder(res.Body).Decode(v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func responseError(res *http.Response) error {
	e := &Error{}
	if json.NewDecoder(res.Body).Decode(e) != nil || e.Message == "" {
		e.Message = res.Status
	}
	e.Code = res.StatusCode
	return e
}

func (c *Client) post(path string, body string) error {
	req, e := http.NewRequest("POST", c.base+path, strings.NewReader(body))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return responseError(res)
	}
	io.Copy(io.Discard, res.Body)
	return nil
}

func (c *Client) Resize(size int) error {
	return c.post("/resize/"+strconv.Itoa(size), "")
}

func (c *Client) Restart() error {
	return c.post("/restart", "")
}

// Stop shuts the cluster down gracefully.  Calling it twice escalates.
func (c *Client) Stop() error {
	return c.post("/stop", "")
}

// Kill shuts the cluster down at once.
func (c *Client) Kill() error {
	return c.post("/kill", "")
}

// KillWorker forcibly terminates one worker.
func (c *Client) KillWorker(id int) error {
	return c.post("/workers/"+strconv.Itoa(id)+"/kill", "")
}

// Debug writes msg to every debug session.
func (c *Client) Debug(msg string) error {
	return c.post("/debug", msg)
}

func (c *Client) pollLog(ctx context.Context, secs int, last *LogInfo) (*LogInfo, error) {

	c.lock.Lock()
	cached := c.log
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if cached != nil && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	v := &LogInfo{}
	etag, e := c.poll(ctx, c.base+"/log", otag, secs, &v.Records)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.log = v
	c.lock.Unlock()

	return v, nil
}

func (c *Client) WatchLog(ctx context.Context, last *LogInfo) (*LogInfo, error) {

	// Let the poll wait for up to 300 secs (5 minutes).
	return c.pollLog(ctx, 300, last)
}

func (c *Client) GetLog() (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollLog(ctx, 0, nil)
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	c := &Client{
		base:   strings.TrimRight(baseURI, "/"),
		client: &http.Client{Transport: t},
	}
	return c
}

// NewClientForAddr returns a Client for an admin address, as accepted
// by Listen: a unix socket path, a host:port, or a full URL.
func NewClientForAddr(addr string) *Client {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return NewClient(nil, addr)
	}
	if !IsUnixAddr(addr) {
		return NewClient(nil, "http://"+addr)
	}
	path := strings.TrimPrefix(addr, "unix:")
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", path)
	}
	c := NewClient(&http.Transport{DialContext: dial}, "http://clustervisor")
	c.dial = dial
	return c
}

// DialStream opens a websocket debug session.  Every debug line is
// delivered as a text message, and text messages sent are run as
// commands (try "help").
func (c *Client) DialStream(ctx context.Context) (*websocket.Conn, error) {
	d := &websocket.Dialer{
		NetDialContext:   c.dial,
		HandshakeTimeout: 10 * time.Second,
	}
	hdr := http.Header{}
	if c.auth {
		req := &http.Request{Header: hdr}
		req.SetBasicAuth(c.user, c.pass)
	}
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/debug/stream"
	conn, res, e := d.DialContext(ctx, url, hdr)
	if e != nil && res != nil && res.StatusCode != http.StatusSwitchingProtocols {
		return nil, responseError(res)
	}
	return conn, e
}

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
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/context"

	"github.com/gdamore/clustervisor"
)

// Supervisor is the part of clustervisor.Supervisor served over HTTP.
type Supervisor interface {
	Info() clustervisor.Info
	Workers() []clustervisor.WorkerInfo
	Worker(id int) (clustervisor.WorkerInfo, error)
	WatchSerial(ctx context.Context, old int64, expire time.Duration) int64
	Resize(size int, done func()) error
	Restart(done func()) error
	Quit() error
	QuitHard() error
	Kill(id int) error
	Debugf(format string, v ...interface{})
	GetLog(last int64) ([]clustervisor.LogRecord, int64)
	LogSince(after int64) ([]clustervisor.LogRecord, int64)
	WatchLog(ctx context.Context, old int64, expire time.Duration) int64
	AddDebugLogger(l *log.Logger)
	DelDebugLogger(l *log.Logger)
}

// Handler wraps a Supervisor, adding http.Handler functionality.
type Handler struct {
	s        Supervisor
	r        *mux.Router
	user     string
	passHash []byte
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	sessions int32
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithBasicAuth requires HTTP basic authentication.  The password is
// checked against a bcrypt hash.
func WithBasicAuth(user string, passHash string) HandlerOption {
	return func(h *Handler) {
		h.user = user
		h.passHash = []byte(passHash)
	}
}

// WithGatherer serves the metrics of g on /metrics.
func WithGatherer(g prometheus.Gatherer) HandlerOption {
	return func(h *Handler) {
		h.gatherer = g
	}
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// writeResult maps supervisor errors onto HTTP status codes.
func (h *Handler) writeResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		h.writeJson(w, ok)
	case errors.Is(err, clustervisor.ErrNoWorker):
		h.writeError(w, &Error{http.StatusNotFound, err.Error()})
	case errors.Is(err, clustervisor.ErrBadSize):
		h.writeError(w, &Error{http.StatusBadRequest, err.Error()})
	case errors.Is(err, clustervisor.ErrStopped):
		h.writeError(w, &Error{http.StatusServiceUnavailable, err.Error()})
	default:
		h.writeError(w, &Error{http.StatusConflict, err.Error()})
	}
}

// pollTime returns how long a GET may be held, either from the poll
// headers (when the etag still matches) or from a ?wait= query.
func pollTime(r *http.Request, tag string) time.Duration {
	var secs int
	if r.Header.Get(PollEtagHeader) == tag {
		secs, _ = strconv.Atoi(r.Header.Get(PollTimeHeader))
	}
	if v := r.URL.Query().Get("wait"); v != "" {
		secs, _ = strconv.Atoi(v)
	}
	d := time.Duration(secs) * time.Second
	if d > MaxPollTime {
		d = MaxPollTime
	}
	if d < 0 {
		d = 0
	}
	return d
}

// notModified handles conditional GETs.  It returns true if the response
// has been written.
func notModified(w http.ResponseWriter, r *http.Request, tag string) bool {
	w.Header().Set("Etag", tag)
	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

// serial waits out a long poll, if one was asked for, and returns the
// etag of the current snapshot.
func (h *Handler) serial(r *http.Request) string {
	sn := h.s.Info().Serial
	if d := pollTime(r, etag(sn)); d > 0 {
		sn = h.s.WatchSerial(r.Context(), sn, d)
	}
	return etag(sn)
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	tag := h.serial(r)
	if notModified(w, r, tag) {
		return
	}
	h.writeJson(w, h.s.Info())
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	tag := h.serial(r)
	if notModified(w, r, tag) {
		return
	}
	h.writeJson(w, h.s.Workers())
}

func workerId(r *http.Request) (int, *Error) {
	id, e := strconv.Atoi(mux.Vars(r)["id"])
	if e != nil {
		return 0, &Error{http.StatusBadRequest, "Bad worker id"}
	}
	return id, nil
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	id, e := workerId(r)
	if e != nil {
		h.writeError(w, e)
		return
	}
	info, err := h.s.Worker(id)
	if err != nil {
		h.writeResult(w, err)
		return
	}
	h.writeJson(w, info)
}

func (h *Handler) killWorker(w http.ResponseWriter, r *http.Request) {
	id, e := workerId(r)
	if e != nil {
		h.writeError(w, e)
		return
	}
	h.writeResult(w, h.s.Kill(id))
}

func (h *Handler) getSize(w http.ResponseWriter, r *http.Request) {
	info := h.s.Info()
	h.writeJson(w, &SizeInfo{Size: info.Size, Target: info.Target})
}

func (h *Handler) getConnections(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, atomic.LoadInt32(&h.sessions))
}

// selector serves a map of worker id to one field.
func (h *Handler) selector(field func(clustervisor.WorkerInfo) interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := make(map[string]interface{})
		for _, wi := range h.s.Workers() {
			m[strconv.Itoa(wi.Id)] = field(wi)
		}
		h.writeJson(w, m)
	}
}

func (h *Handler) resize(w http.ResponseWriter, r *http.Request) {
	size, e := strconv.Atoi(mux.Vars(r)["size"])
	if e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, "Bad size"})
		return
	}
	h.writeResult(w, h.s.Resize(size, nil))
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.s.Restart(nil))
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.s.Quit())
}

func (h *Handler) kill(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.s.QuitHard())
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	_, id := h.s.LogSince(math.MaxInt64)
	if d := pollTime(r, etag(id)); d > 0 {
		id = h.s.WatchLog(r.Context(), id, d)
	}
	if notModified(w, r, etag(id)) {
		return
	}
	recs, _ := h.s.GetLog(0)
	if recs == nil {
		recs = []clustervisor.LogRecord{}
	}
	h.writeJson(w, recs)
}

// debug writes the request body to every debug destination, like wall.
func (h *Handler) debug(w http.ResponseWriter, r *http.Request) {
	b, e := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, e.Error()})
		return
	}
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		h.writeError(w, &Error{http.StatusBadRequest, "Empty message"})
		return
	}
	h.s.Debugf("%s", msg)
	h.writeJson(w, ok)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, found := r.BasicAuth()
		if !found || user != h.user ||
			bcrypt.CompareHashAndPassword(h.passHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="clustervisor"`)
			h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

func NewHandler(s Supervisor, opts ...HandlerOption) *Handler {
	r := mux.NewRouter()
	h := &Handler{s: s, r: r}
	for _, o := range opts {
		o(h)
	}
	if h.user != "" {
		r.Use(h.authenticate)
	}
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/workers", h.listWorkers).Methods("GET")
	r.HandleFunc("/workers/{id}", h.getWorker).Methods("GET")
	r.HandleFunc("/workers/{id}/kill", h.killWorker).Methods("POST")
	r.HandleFunc("/size", h.getSize).Methods("GET")
	r.HandleFunc("/connections", h.getConnections).Methods("GET")
	r.HandleFunc("/pids", h.selector(func(w clustervisor.WorkerInfo) interface{} {
		return w.Pid
	})).Methods("GET")
	r.HandleFunc("/ages", h.selector(func(w clustervisor.WorkerInfo) interface{} {
		return w.Age.Milliseconds()
	})).Methods("GET")
	r.HandleFunc("/states", h.selector(func(w clustervisor.WorkerInfo) interface{} {
		return w.State
	})).Methods("GET")
	r.HandleFunc("/resize/{size}", h.resize).Methods("POST")
	r.HandleFunc("/restart", h.restart).Methods("POST")
	r.HandleFunc("/stop", h.stop).Methods("POST")
	r.HandleFunc("/kill", h.kill).Methods("POST")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/debug", h.debug).Methods("POST")
	r.HandleFunc("/debug/stream", h.stream).Methods("GET")
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return h
}

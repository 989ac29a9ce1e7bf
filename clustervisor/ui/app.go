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

package ui

import (
	"errors"
	"log"
	"time"

	"golang.org/x/net/context"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/clustervisor/clustervisor/util"
	"github.com/gdamore/clustervisor/rest"
)

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	auth      *AuthPanel
	client    *rest.Client
	logger    *log.Logger
	server    string
	status    *rest.Info
	items     []rest.WorkerInfo
	err       error
	notice    string
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(id int) {
	a.info.SetId(id)
	a.show(a.info)
}

func (a *App) ShowLog() {
	if a.logCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.logCancel = cancel
		go a.refreshLog(ctx)
	}
	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) ShowAuth() {
	a.auth.ResetFields()
	a.show(a.auth)
}

func (a *App) SetUserPassword(user, pass string) {
	a.client.SetAuth(user, pass)
	a.err = nil
	a.logErr = nil
}

// act runs a command against the server, away from the event loop, and
// reports the outcome in the status bar.
func (a *App) act(what string, fn func() error) {
	go func() {
		e := fn()
		a.app.PostFunc(func() {
			if e != nil {
				a.notice = what + " failed: " + e.Error()
			} else {
				a.notice = what + " requested"
			}
			a.app.Update()
		})
		time.AfterFunc(5*time.Second, func() {
			a.app.PostFunc(func() {
				a.notice = ""
				a.app.Update()
			})
		})
	}()
}

func (a *App) Restart() {
	a.act("Restart", a.client.Restart)
}

// Grow and Shrink adjust the target by one worker.
func (a *App) Grow() {
	if a.status != nil {
		n := a.status.Target + 1
		a.act("Resize", func() error { return a.client.Resize(n) })
	}
}

func (a *App) Shrink() {
	if a.status != nil && a.status.Target > 0 {
		n := a.status.Target - 1
		a.act("Resize", func() error { return a.client.Resize(n) })
	}
}

func (a *App) Stop() {
	a.act("Stop", a.client.Stop)
}

func (a *App) KillWorker(id int) {
	a.act("Kill", func() error { return a.client.KillWorker(id) })
}

func (a *App) Quit() {
	/* This just posts the quit event. */
	a.app.Quit()
}

func (a *App) SetLogger(logger *log.Logger) {
	a.logger = logger
	if logger != nil {
		logger.Printf("Start logger")
	}
}

func (a *App) Logf(fmt string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Printf(fmt, v...)
	}
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetAppName() string {
	return "Clustervisor v1.0"
}

func (a *App) Server() string {
	return a.server
}

func NewApp(client *rest.Client, server string) *App {

	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.server = server
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app)
	app.auth = NewAuthPanel(app)
	app.panel = app.main

	go app.refresh()
	return app
}

// refresh keeps the cluster status and worker list current.  Both are
// versioned by the same serial, so one long poll covers them.
func (a *App) refresh() {
	client := a.client
	etag := ""
	for {
		info, e := client.Info()
		var items []rest.WorkerInfo
		if e == nil {
			items, e = client.Workers()
			util.SortWorkers(items)
		}

		a.app.PostFunc(func() {
			if e == nil {
				a.status = info
				a.items = items
			}
			a.err = e
			a.app.Update()
		})
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Hour)
		etag, e = client.Watch(ctx, etag)
		cancel()
		if e != nil {
			time.Sleep(2 * time.Second)
		}
	}
}

func (a *App) refreshLog(ctx context.Context) {
	info, e := a.client.GetLog()

	for {
		a.app.PostFunc(func() {
			a.logInfo = info
			a.logErr = e
			a.app.Update()
		})
		select {
		case <-ctx.Done():
			return
		default:
		}
		if e != nil {
			time.Sleep(2 * time.Second)
			info, e = a.client.GetLog()
			continue
		}
		info, e = a.client.WatchLog(ctx, info)
	}
}

// authFailed reports whether e means we need credentials.
func authFailed(e error) bool {
	var re *rest.Error
	return errors.As(e, &re) && re.Code == 401
}

func (a *App) GetStatus() (*rest.Info, error) {
	return a.status, a.err
}

func (a *App) GetItems() ([]rest.WorkerInfo, error) {
	return a.items, a.err
}

func (a *App) GetItem(id int) (*rest.WorkerInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	for i := range a.items {
		if a.items[i].Id == id {
			return &a.items[i], nil
		}
	}
	return nil, errors.New("Worker not found")
}

func (a *App) GetLog() (*rest.LogInfo, error) {
	return a.logInfo, a.logErr
}

// Notice is the outcome of the last command, if recent.
func (a *App) Notice() string {
	return a.notice
}

func (a *App) Run() error {
	a.Logf("Starting up user interface")
	a.app.SetRootWidget(a)
	a.ShowMain()
	go func() {
		// Give us periodic updates
		for {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	a.Logf("Starting app loop")
	e := a.app.Run()
	if a.logCancel != nil {
		a.logCancel()
	}
	return e
}

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
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/clustervisor/clustervisor/util"
)

// LogPanel shows the supervisor's debug log, following it as it grows.
type LogPanel struct {
	text   *views.TextArea
	follow bool

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{follow: true}

	p.Panel.Init(app)

	p.SetTitle("Supervisor Log")
	p.SetKeys([]string{"[ESC] Main", "[H] Help", "[F] Follow"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
	app := p.app
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyUp, tcell.KeyPgUp, tcell.KeyHome:
			p.follow = false
		case tcell.KeyEnd:
			p.follow = true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'F', 'f':
				p.follow = !p.follow
				return true
			case 'R', 'r':
				app.Restart()
				return true
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

// update must be called on the application's event loop.
func (p *LogPanel) update() {

	loginfo, e := p.app.GetLog()

	if authFailed(e) {
		p.app.ShowAuth()
		return
	}
	if loginfo == nil {
		if e != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", e))
			p.SetHealth(util.Bad)
		} else {
			p.SetStatus("Loading ...")
			p.SetHealth(util.Normal)
		}
		p.text.SetLines([]string{""})
		return
	}

	lines := make([]string, 0, len(loginfo.Records))
	for _, r := range loginfo.Records {
		line := fmt.Sprintf("%s %s",
			r.Time.Format(time.StampMilli), r.Text)
		lines = append(lines, line)
	}
	p.text.SetLines(lines)
	if p.follow && len(lines) > 0 {
		p.text.MakeVisible(0, len(lines)-1)
	}

	status := fmt.Sprintf("%d lines", len(lines))
	if p.follow {
		status += ", following"
	}
	p.SetStatus(status)
	p.SetHealth(util.Normal)
}

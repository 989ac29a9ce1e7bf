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

// InfoPanel shows everything known about a single worker.
type InfoPanel struct {
	text *views.TextArea
	id   int

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	i := &InfoPanel{}
	i.Panel.Init(app)

	i.text = views.NewTextArea()
	i.text.EnableCursor(false)
	i.text.SetStyle(StyleNormal)
	i.SetContent(i.text)
	return i
}

func (i *InfoPanel) Draw() {
	i.update()
	i.Panel.Draw()
}

func (i *InfoPanel) HandleEvent(ev tcell.Event) bool {
	app := i.app
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				app.ShowLog()
				return true
			case 'K', 'k':
				app.KillWorker(i.id)
				return true
			}
		}
	}
	return i.Panel.HandleEvent(ev)
}

func (i *InfoPanel) SetId(id int) {
	i.id = id
	i.SetTitle(fmt.Sprintf("Worker %d", id))
}

func (i *InfoPanel) update() {

	w, e := i.app.GetItem(i.id)
	words := []string{"[ESC] Main", "[H] Help", "[L] Log"}

	if w == nil {
		// most likely the worker has exited
		i.SetStatus(fmt.Sprintf("No data: %v", e))
		i.SetHealth(util.Bad)
		i.text.SetLines(nil)
		i.SetKeys(words)
		return
	}

	i.SetStatus(util.Status(w))
	i.SetHealth(util.WorkerHealth(w))

	condemned := "no"
	if w.Condemned != nil {
		condemned = w.Condemned.Format(time.RFC3339)
	}
	i.text.SetLines([]string{
		fmt.Sprintf("%13s %d", "Id:", w.Id),
		fmt.Sprintf("%13s %d", "Pid:", w.Pid),
		fmt.Sprintf("%13s %s", "State:", w.State),
		fmt.Sprintf("%13s %v", "Born:", w.Birth.Format(time.RFC3339)),
		fmt.Sprintf("%13s %s", "Age:", util.FormatDuration(w.Age)),
		fmt.Sprintf("%13s %v", "Connected:", w.Connected),
		fmt.Sprintf("%13s %s", "Condemned:", condemned),
		fmt.Sprintf("%13s %v", "Replacing:", w.WillBeDead),
	})
	i.SetKeys(append(words, "[K] Kill"))
}

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

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/clustervisor/clustervisor/util"
	"github.com/gdamore/clustervisor/rest"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)

	// RowStyles color worker rows by health.
	RowStyles = map[util.Health]tcell.Style{
		util.Normal: StyleNormal,
		util.Good:   StyleNormal.Foreground(tcell.ColorGreen),
		util.Warn:   StyleNormal.Foreground(tcell.ColorYellow),
		util.Bad:    StyleNormal.Foreground(tcell.ColorMaroon),
	}
)

const header = "    ID      PID  STATE            AGE  CONNECTED"

// MainPanel implements a Widget as a Panel, but provides the data
// model and handling for the content area, a table of the workers.
type MainPanel struct {
	content  *views.CellView
	selected int // worker id, zero if none
	width    int
	height   int
	curx     int
	cury     int
	lines    []string
	styles   []tcell.Style
	items    []rest.WorkerInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetTitle("Workers")
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	app := m.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyEnter:
			if m.selected != 0 {
				app.ShowInfo(m.selected)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.Quit()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'I', 'i':
				if m.selected != 0 {
					app.ShowInfo(m.selected)
					return true
				}
			case 'L', 'l':
				app.ShowLog()
				return true
			case 'R', 'r':
				app.Restart()
				return true
			case '+', '=':
				app.Grow()
				return true
			case '-', '_':
				app.Shrink()
				return true
			case 'S', 's':
				app.Stop()
				return true
			case 'K', 'k':
				if m.selected != 0 {
					app.KillWorker(m.selected)
					return true
				}
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items.  Row zero is the column header.
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ' ', StyleNormal, nil, 1
	}

	ch := ' '
	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	}
	style := m.styles[y]
	if y > 0 && m.items[y-1].Id == m.selected {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	m := model.m
	return m.width, len(m.lines)
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {

	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	if m.curx > m.width-1 {
		m.curx = m.width - 1
	}
	if m.cury > m.height {
		m.cury = m.height
	}
	if m.curx < 0 {
		m.curx = 0
	}
	if m.cury < 1 {
		m.cury = 1
	}
	if selected && m.height > 0 {
		m.selected = m.items[m.cury-1].Id
	} else {
		m.selected = 0
	}
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.  It is called on the application's
// event loop.
func (m *MainPanel) update() {

	status, err := m.App().GetStatus()
	items, _ := m.App().GetItems()
	m.items = items

	if authFailed(err) {
		m.App().ShowAuth()
		return
	}
	if err != nil || status == nil {
		m.SetHealth(util.Bad)
		if err != nil {
			m.SetStatus(fmt.Sprintf("Cannot load workers: %v", err))
		} else {
			m.SetStatus("Loading ...")
		}
		m.lines = []string{}
		m.styles = []tcell.Style{}
		m.height = 0
		return
	}

	// preserve selected worker; it may have gone away
	found := false
	for i, w := range m.items {
		if w.Id == m.selected {
			m.cury = i + 1
			found = true
		}
	}
	if !found {
		m.selected = 0
	}

	lines := make([]string, 0, len(m.items)+1)
	styles := make([]tcell.Style, 0, len(m.items)+1)
	lines = append(lines, header)
	styles = append(styles, StyleNormal.Bold(true))

	m.width = len(header)
	m.height = 0
	for i := range items {
		w := &items[i]
		line := fmt.Sprintf("%6d %8d  %-12s %8s  %v",
			w.Id, w.Pid, util.Status(w), util.FormatDuration(w.Age),
			w.Connected)
		if len(line) > m.width {
			m.width = len(line)
		}
		m.height++
		lines = append(lines, line)
		styles = append(styles, RowStyles[util.WorkerHealth(w)])
	}
	m.lines = lines
	m.styles = styles

	text := util.Describe(status)
	if n := m.App().Notice(); n != "" {
		text += "  (" + n + ")"
	}
	m.SetStatus(text)
	m.SetHealth(util.ClusterHealth(status))

	words := []string{"[Q] Quit", "[H] Help", "[L] Log", "[R] Restart",
		"[+] Grow", "[-] Shrink", "[S] Stop"}
	if m.selected != 0 {
		words = append(words, "[I] Info", "[K] Kill")
	}
	m.SetKeys(words)
}

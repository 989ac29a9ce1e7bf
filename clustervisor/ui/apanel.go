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
	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/gdamore/clustervisor/clustervisor/util"
)

const fieldWidth = 16

var (
	styleFocus = tcell.StyleDefault.
			Foreground(tcell.ColorWhite).Background(tcell.ColorNavy)
	styleIdle = StyleNormal
)

// AuthPanel prompts for the credentials of the admin interface.
type AuthPanel struct {
	fields     *views.BoxLayout
	prompts    *views.BoxLayout
	ufield     *views.Text
	pfield     *views.Text
	passactive bool
	username   []rune
	password   []rune

	Panel
}

func NewAuthPanel(app *App) *AuthPanel {
	a := &AuthPanel{}
	a.Panel.Init(app)

	a.username = make([]rune, 0, 128)
	a.password = make([]rune, 0, 128)

	layout := views.NewBoxLayout(views.Horizontal)
	a.prompts = views.NewBoxLayout(views.Vertical)
	a.fields = views.NewBoxLayout(views.Vertical)
	uprompt := views.NewText()
	pprompt := views.NewText()
	a.ufield = views.NewText()
	a.pfield = views.NewText()
	uprompt.SetText("Username: ")
	pprompt.SetText("Password: ")

	for _, w := range []*views.Text{uprompt, pprompt, a.ufield, a.pfield} {
		w.SetStyle(styleIdle)
	}
	for _, b := range []*views.BoxLayout{layout, a.prompts, a.fields} {
		b.SetStyle(styleIdle)
	}

	a.prompts.AddWidget(views.NewSpacer(), 1.0)
	a.prompts.AddWidget(uprompt, 0.0)
	a.prompts.AddWidget(pprompt, 0.0)
	a.prompts.AddWidget(views.NewSpacer(), 1.0)

	a.fields.AddWidget(views.NewSpacer(), 1.0)
	a.fields.AddWidget(a.ufield, 0.0)
	a.fields.AddWidget(a.pfield, 0.0)
	a.fields.AddWidget(views.NewSpacer(), 1.0)

	layout.AddWidget(views.NewSpacer(), 1.0)
	layout.AddWidget(a.prompts, 0.0)
	layout.AddWidget(a.fields, 0.0)
	layout.AddWidget(views.NewSpacer(), 1.0)

	a.SetTitle("Login")
	a.SetStatus("Authentication Required")
	a.SetKeys([]string{"[ESC] Quit", "[TAB] Next"})
	a.SetContent(layout)
	a.update()

	return a
}

func (a *AuthPanel) ResetFields() {
	a.passactive = false
	a.username = a.username[:0]
	a.password = a.password[:0]
}

func (a *AuthPanel) Draw() {
	a.update()
	a.Panel.Draw()
}

// field returns the buffer being edited.
func (a *AuthPanel) field() *[]rune {
	if a.passactive {
		return &a.password
	}
	return &a.username
}

func (a *AuthPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		f := a.field()
		switch ev.Key() {
		case tcell.KeyEsc:
			a.App().Quit()
		case tcell.KeyTab, tcell.KeyEnter:
			if a.passactive {
				a.App().SetUserPassword(string(a.username),
					string(a.password))
				a.App().ShowMain()
			} else {
				a.passactive = true
			}
		case tcell.KeyBacktab:
			a.passactive = false
		case tcell.KeyCtrlU, tcell.KeyCtrlW:
			*f = (*f)[:0]
		case tcell.KeyBackspace, tcell.KeyBackspace2:
			if len(*f) > 0 {
				*f = (*f)[:len(*f)-1]
			}
		case tcell.KeyRune:
			if len(*f) < 256 {
				*f = append(*f, ev.Rune())
			}
		default:
			return false
		}
		return true
	}
	return a.Panel.HandleEvent(ev)
}

// pad shows the tail of a field, at a fixed width.
func pad(r []rune) string {
	if len(r) > fieldWidth {
		r = append([]rune{'<'}, r[len(r)-fieldWidth+1:]...)
	}
	for len(r) < fieldWidth {
		r = append(r, ' ')
	}
	return string(r)
}

func (a *AuthPanel) update() {

	a.SetHealth(util.Bad)

	user := append([]rune{}, a.username...)
	var pass []rune
	for range a.password {
		pass = append(pass, '*')
	}
	if a.passactive {
		pass = append(pass, '_')
		a.pfield.SetStyle(styleFocus)
		a.ufield.SetStyle(styleIdle)
	} else {
		user = append(user, '_')
		a.ufield.SetStyle(styleFocus)
		a.pfield.SetStyle(styleIdle)
	}
	a.ufield.SetText(pad(user))
	a.pfield.SetText(pad(pass))
}

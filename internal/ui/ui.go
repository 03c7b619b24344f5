// Package ui is the terminal front end of the color demo. The Panel shows
// the session state and the last color received, and sends colors when a
// button is pressed.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/peder1981/p2p-color/internal/observer"
	"github.com/peder1981/p2p-color/internal/palette"
)

const maxHistory = 100

// SendFunc broadcasts a color name and returns the number of recipients.
type SendFunc func(color string) (int, error)

// Panel is the color demo screen. Its On* methods implement
// observer.Observer and must run on the tview event loop; pass Executor to
// the observer dispatcher to get there.
type Panel struct {
	app     *tview.Application
	title   string
	root    *tview.Flex
	canvas  *tview.Box
	status  *tview.TextView
	history *tview.TextView
	buttons *tview.Form

	palette *palette.Palette
	send    SendFunc
	log     *zap.Logger

	current string
	lines   []string
}

var (
	_ observer.Observer      = (*Panel)(nil)
	_ observer.ErrorObserver = (*Panel)(nil)
)

// NewPanel lays out the screen with one button per palette color.
func NewPanel(title string, pal *palette.Palette, send SendFunc, log *zap.Logger) *Panel {
	if log == nil {
		log = zap.L()
	}
	app := tview.NewApplication()

	status := tview.NewTextView().
		SetDynamicColors(false).
		SetTextAlign(tview.AlignCenter)
	status.SetBorder(true).SetTitle(title)

	canvas := tview.NewBox()
	canvas.SetBorder(true).SetTitle("Color")

	history := tview.NewTextView().
		SetScrollable(true)
	history.SetBorder(true).SetTitle("Received")

	buttons := tview.NewForm()
	buttons.SetButtonsAlign(tview.AlignCenter)

	body := tview.NewFlex().
		AddItem(canvas, 0, 2, false).
		AddItem(history, 0, 1, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(status, 3, 0, false).
		AddItem(body, 0, 1, false).
		AddItem(buttons, 3, 0, true)

	p := &Panel{
		app:     app,
		title:   title,
		root:    root,
		canvas:  canvas,
		status:  status,
		history: history,
		buttons: buttons,
		palette: pal,
		send:    send,
		log:     log.Named("ui"),
	}
	for i, name := range pal.Names() {
		buttons.AddButton(fmt.Sprintf("%d %s", i+1, name), func() { p.pick(name) })
	}
	p.status.SetText(connectionLabel("Not Connected", nil))

	app.SetInputCapture(p.onKey)
	return p
}

// connectionLabel renders a connection change for the status line.
func connectionLabel(state string, connected []string) string {
	if state == "Connected" && len(connected) > 0 {
		return "Connected: " + connected[0]
	}
	return state
}

// Executor queues fn on the tview event loop.
func (p *Panel) Executor() observer.Executor {
	return func(fn func()) { p.app.QueueUpdateDraw(fn) }
}

func (p *Panel) OnConnectionChanged(state string, connected []string) {
	p.status.SetText(connectionLabel(state, connected))
	if len(connected) > 1 {
		p.status.SetTitle(fmt.Sprintf("%d peers: %s", len(connected), strings.Join(connected, ", ")))
	} else {
		p.status.SetTitle(p.title)
	}
}

func (p *Panel) OnMessageReceived(senderID, content string) {
	short := senderID
	if len(short) > 8 {
		short = short[:8]
	}
	p.addHistory(fmt.Sprintf("%s %s: %s", time.Now().Format("15:04:05"), short, content))
	if !p.apply(content) {
		p.log.Info("unknown color", zap.String("color", content), zap.String("peer", senderID))
	}
}

func (p *Panel) OnError(err error) {
	p.addHistory("error: " + err.Error())
}

// apply paints the canvas with the named color.
func (p *Panel) apply(name string) bool {
	c, ok := p.palette.Lookup(name)
	if !ok {
		return false
	}
	p.current = name
	p.canvas.SetBackgroundColor(c)
	return true
}

// Current returns the name of the color on the canvas.
func (p *Panel) Current() string {
	return p.current
}

// Status returns the text of the status line.
func (p *Panel) Status() string {
	return p.status.GetText(true)
}

func (p *Panel) addHistory(line string) {
	p.lines = append(p.lines, line)
	if len(p.lines) > maxHistory {
		p.lines = p.lines[len(p.lines)-maxHistory:]
	}
	p.history.SetText(strings.Join(p.lines, "\n"))
	p.history.ScrollToEnd()
}

// pick applies a color locally and broadcasts it.
func (p *Panel) pick(name string) {
	p.apply(name)
	if p.send == nil {
		return
	}
	go func() {
		n, err := p.send(name)
		if err != nil {
			p.log.Warn("send color failed", zap.String("color", name), zap.Error(err))
			p.app.QueueUpdateDraw(func() { p.OnError(err) })
			return
		}
		p.log.Debug("color sent", zap.String("color", name), zap.Int("peers", n))
	}()
}

func (p *Panel) onKey(ev *tcell.EventKey) *tcell.EventKey {
	if ev.Key() == tcell.KeyCtrlC || (ev.Key() == tcell.KeyRune && ev.Rune() == 'q') {
		p.app.Stop()
		return nil
	}
	if ev.Key() == tcell.KeyRune && ev.Rune() >= '1' && ev.Rune() <= '9' {
		names := p.palette.Names()
		if i := int(ev.Rune() - '1'); i < len(names) {
			p.pick(names[i])
			return nil
		}
	}
	return ev
}

// Run shows the panel until Stop or the user quits.
func (p *Panel) Run() error {
	return p.app.SetRoot(p.root, true).EnableMouse(true).Run()
}

// Stop ends Run.
func (p *Panel) Stop() {
	p.app.Stop()
}

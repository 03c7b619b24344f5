package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/peder1981/p2p-color/internal/palette"
)

func newTestPanel(t *testing.T, send SendFunc) (*Panel, *observer.ObservedLogs) {
	t.Helper()
	pal, err := palette.New(palette.DefaultColors())
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zap.InfoLevel)
	return NewPanel("test", pal, send, zap.New(core)), logs
}

func TestConnectionLabel(t *testing.T) {
	tests := []struct {
		state     string
		connected []string
		want      string
	}{
		{"Not Connected", []string{}, "Not Connected"},
		{"Connecting", []string{}, "Connecting"},
		{"Connected", []string{"Bea", "Cid"}, "Connected: Bea"},
		{"Connected", nil, "Connected"},
	}
	for _, tt := range tests {
		if got := connectionLabel(tt.state, tt.connected); got != tt.want {
			t.Errorf("connectionLabel(%q, %v) = %q; want %q", tt.state, tt.connected, got, tt.want)
		}
	}
}

func TestPanelShowsConnection(t *testing.T) {
	p, _ := newTestPanel(t, nil)
	if got := p.Status(); got != "Not Connected" {
		t.Errorf("initial status = %q", got)
	}
	p.OnConnectionChanged("Connected", []string{"Bea"})
	if got := p.Status(); got != "Connected: Bea" {
		t.Errorf("status = %q", got)
	}
}

func TestPanelTitleFollowsPeerCount(t *testing.T) {
	p, _ := newTestPanel(t, nil)
	p.OnConnectionChanged("Connected", []string{"Bea", "Cid"})
	if got := p.status.GetTitle(); got != "2 peers: Bea, Cid" {
		t.Errorf("title with two peers = %q", got)
	}
	p.OnConnectionChanged("Not Connected", []string{"Bea"})
	if got := p.status.GetTitle(); got != "test" {
		t.Errorf("title with one peer = %q; want test", got)
	}
	p.OnConnectionChanged("Connected", []string{"Bea", "Cid"})
	p.OnConnectionChanged("Not Connected", []string{})
	if got := p.status.GetTitle(); got != "test" {
		t.Errorf("title with nobody = %q; want test", got)
	}
}

func TestPanelAppliesKnownColor(t *testing.T) {
	p, logs := newTestPanel(t, nil)
	p.OnMessageReceived("peer-1", "Indigo")
	if p.Current() != "Indigo" {
		t.Errorf("current = %q", p.Current())
	}
	if logs.FilterMessage("unknown color").Len() != 0 {
		t.Error("known color logged as unknown")
	}
}

func TestPanelLogsUnknownColor(t *testing.T) {
	p, logs := newTestPanel(t, nil)
	p.OnMessageReceived("peer-1", "red")
	p.OnMessageReceived("peer-1", "chartreuse")

	if p.Current() != "red" {
		t.Errorf("unknown color replaced the canvas: %q", p.Current())
	}
	entries := logs.FilterMessage("unknown color").All()
	if len(entries) != 1 || entries[0].ContextMap()["color"] != "chartreuse" {
		t.Fatalf("log entries = %+v", entries)
	}
	if !strings.Contains(p.history.GetText(true), "chartreuse") {
		t.Error("message missing from history")
	}
}

func TestPanelKeySendsColor(t *testing.T) {
	sent := make(chan string, 1)
	p, _ := newTestPanel(t, func(color string) (int, error) {
		sent <- color
		return 1, nil
	})

	// Names are sorted: 1 is Indigo, 2 is red.
	if ev := p.onKey(tcell.NewEventKey(tcell.KeyRune, '2', tcell.ModNone)); ev != nil {
		t.Fatal("key was not consumed")
	}
	select {
	case c := <-sent:
		if c != "red" {
			t.Errorf("sent %q", c)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing sent")
	}
	if p.Current() != "red" {
		t.Errorf("local canvas = %q", p.Current())
	}
	if ev := p.onKey(tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)); ev == nil {
		t.Error("unrelated key swallowed")
	}
}

func TestPanelShowsErrors(t *testing.T) {
	p, _ := newTestPanel(t, nil)
	p.OnError(errors.New("transport browse: no multicast"))
	if !strings.Contains(p.history.GetText(true), "no multicast") {
		t.Error("error not shown")
	}
}

package palette

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestDefaults(t *testing.T) {
	p, err := New(DefaultColors())
	if err != nil {
		t.Fatal(err)
	}
	c, ok := p.Lookup("red")
	if !ok || c != tcell.NewRGBColor(0xff, 0x3b, 0x30) {
		t.Errorf("red = %v, %v", c, ok)
	}
	if _, ok := p.Lookup("Indigo"); !ok {
		t.Error("Indigo missing")
	}
	if _, ok := p.Lookup("indigo"); ok {
		t.Error("lookup must be case-sensitive")
	}
	if got := p.Names(); !reflect.DeepEqual(got, []string{"Indigo", "red"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestNewRejectsBadHex(t *testing.T) {
	for _, v := range []string{"red", "#fff", "#gg0000", "ff0000"} {
		if _, err := New(map[string]string{"x": v}); err == nil {
			t.Errorf("accepted %q", v)
		}
	}
}

func TestOpenAddRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "palette.toml")
	p, err := Open(path, DefaultColors())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Add("teal", "#008080"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Remove("red"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if h, ok := reopened.Hex("teal"); !ok || h != "#008080" {
		t.Errorf("teal = %q, %v", h, ok)
	}
	if _, ok := reopened.Lookup("red"); ok {
		t.Error("removed color came back")
	}
}

func TestOpenOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palette.toml")
	if err := os.WriteFile(path, []byte("[colors]\nred = \"#FF0000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := Open(path, DefaultColors())
	if err != nil {
		t.Fatal(err)
	}
	if h, _ := p.Hex("red"); h != "#ff0000" {
		t.Errorf("red = %q; want file value", h)
	}
	if _, ok := p.Lookup("Indigo"); !ok {
		t.Error("base color lost")
	}
}

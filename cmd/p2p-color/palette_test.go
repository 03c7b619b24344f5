package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestPaletteCommands(t *testing.T) {
	saved := opts
	t.Cleanup(func() { opts = saved })
	dir := t.TempDir()
	opts = options{
		configPath:  filepath.Join(dir, "missing.toml"),
		palettePath: filepath.Join(dir, "palette.toml"),
	}

	var out bytes.Buffer
	for _, c := range []struct {
		run  func() error
		name string
	}{
		{name: "add", run: func() error {
			paletteAddCmd.SetOut(&out)
			return paletteAddCmd.RunE(paletteAddCmd, []string{"teal", "#008080"})
		}},
		{name: "list", run: func() error {
			paletteListCmd.SetOut(&out)
			return paletteListCmd.RunE(paletteListCmd, nil)
		}},
	} {
		if err := c.run(); err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
	}
	if !strings.Contains(out.String(), "teal") || !strings.Contains(out.String(), "#008080") {
		t.Fatalf("list output missing teal:\n%s", out.String())
	}

	out.Reset()
	paletteRemoveCmd.SetOut(&out)
	if err := paletteRemoveCmd.RunE(paletteRemoveCmd, []string{"teal"}); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := paletteListCmd.RunE(paletteListCmd, nil); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "teal") {
		t.Errorf("teal still listed after remove:\n%s", out.String())
	}
}

func TestPaletteAddRejectsBadHex(t *testing.T) {
	saved := opts
	t.Cleanup(func() { opts = saved })
	dir := t.TempDir()
	opts = options{
		configPath:  filepath.Join(dir, "missing.toml"),
		palettePath: filepath.Join(dir, "palette.toml"),
	}
	paletteAddCmd.SetOut(&bytes.Buffer{})
	if err := paletteAddCmd.RunE(paletteAddCmd, []string{"mud", "brown"}); err == nil {
		t.Error("add accepted a non-hex color")
	}
}

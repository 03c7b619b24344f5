// Package palette maps the color names peers exchange to displayable colors.
package palette

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/gdamore/tcell/v2"

	"github.com/peder1981/p2p-color/internal/storage"
)

// file is the on-disk form of a palette.
type file struct {
	Colors map[string]string `toml:"colors"`
}

// Palette is a set of named colors, optionally backed by a TOML file.
// Names are case-sensitive. It is safe for concurrent use.
type Palette struct {
	path string

	mu     sync.RWMutex
	colors map[string]tcell.Color
	hex    map[string]string
}

// DefaultColors are the two colors the demo buttons send.
func DefaultColors() map[string]string {
	return map[string]string{
		"red":    "#ff3b30",
		"Indigo": "#5856d6",
	}
}

// DefaultPalettePath returns the default path for palette.toml under XDG config.
func DefaultPalettePath() (string, error) {
	return storage.ConfigFile("palette.toml")
}

// New builds an in-memory palette from name to "#rrggbb" entries.
func New(entries map[string]string) (*Palette, error) {
	p := &Palette{
		colors: make(map[string]tcell.Color),
		hex:    make(map[string]string),
	}
	for name, value := range entries {
		if err := p.set(name, value); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Open creates a palette from base and then overlays the colors stored at
// path. A missing file is not an error; Add and Remove create it.
func Open(path string, base map[string]string) (*Palette, error) {
	p, err := New(base)
	if err != nil {
		return nil, err
	}
	p.path = path
	if err := p.Load(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads the palette file and merges its colors.
func (p *Palette) Load() error {
	if p.path == "" {
		return nil
	}
	info, err := os.Stat(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	var f file
	if _, err := toml.DecodeFile(p.path, &f); err != nil {
		return fmt.Errorf("decode palette %s: %w", p.path, err)
	}
	for name, value := range f.Colors {
		if err := p.set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (p *Palette) set(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("palette: empty color name")
	}
	c, err := parseHex(value)
	if err != nil {
		return fmt.Errorf("palette: color %q: %w", name, err)
	}
	p.mu.Lock()
	p.colors[name] = c
	p.hex[name] = strings.ToLower(value)
	p.mu.Unlock()
	return nil
}

func parseHex(value string) (tcell.Color, error) {
	if len(value) != 7 || value[0] != '#' {
		return tcell.ColorDefault, fmt.Errorf("%q is not #rrggbb", value)
	}
	var r, g, b int32
	if _, err := fmt.Sscanf(value, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return tcell.ColorDefault, fmt.Errorf("%q is not #rrggbb", value)
	}
	return tcell.NewRGBColor(r, g, b), nil
}

// Lookup returns the color called name.
func (p *Palette) Lookup(name string) (tcell.Color, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.colors[name]
	return c, ok
}

// Hex returns the "#rrggbb" form of name.
func (p *Palette) Hex(name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.hex[name]
	return h, ok
}

// Names returns the color names in sorted order.
func (p *Palette) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.colors))
	for n := range p.colors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Add adds or updates a color and saves the file.
func (p *Palette) Add(name, value string) error {
	if err := p.set(name, value); err != nil {
		return err
	}
	return p.save()
}

// Remove deletes a color and saves the file.
func (p *Palette) Remove(name string) error {
	p.mu.Lock()
	delete(p.colors, name)
	delete(p.hex, name)
	p.mu.Unlock()
	return p.save()
}

// save writes the palette to its file.
func (p *Palette) save() error {
	if p.path == "" {
		return nil
	}
	p.mu.RLock()
	f := file{Colors: make(map[string]string, len(p.hex))}
	for n, h := range p.hex {
		f.Colors[n] = h
	}
	p.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(p.path)
	if err != nil {
		return err
	}
	defer out.Close()
	return toml.NewEncoder(out).Encode(f)
}

// Package storage locates the per-user directories the application writes
// to, following the XDG base directory layout.
package storage

import (
	"os"
	"path/filepath"
)

const appDir = "p2p-color"

// ConfigDir returns the configuration directory, from XDG_CONFIG_HOME or
// ~/.config. It returns "" when neither is known.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the directory for logs and other state, from
// XDG_STATE_HOME or ~/.local/state. It falls back to the temp directory.
func StateDir() string {
	if dir := xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state")); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), appDir)
}

// ConfigFile returns the path of name inside ConfigDir.
func ConfigFile(name string) (string, error) {
	dir := ConfigDir()
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, appDir)
	}
	return filepath.Join(dir, name), nil
}

func xdgDir(env, homeRel string) string {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, homeRel, appDir)
	}
	return ""
}

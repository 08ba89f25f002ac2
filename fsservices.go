package main

import (
	"os"
	"path/filepath"
)

const appName = "shopsense"

// xdgConfigDir returns $XDG_CONFIG_HOME or falls back to $HOME/.config.
func xdgConfigDir() string {
	return xdgBase("XDG_CONFIG_HOME", ".config")
}

// xdgDataDir returns $XDG_DATA_HOME or falls back to $HOME/.local/share.
func xdgDataDir() string {
	return xdgBase("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgBase(env, homeRel string) string {
	if d := os.Getenv(env); d != "" {
		return d
	}
	home := os.Getenv("HOME")
	if home == "" {
		// Last resort: current working directory (should not normally happen)
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, homeRel)
	}
	return filepath.Join(home, homeRel)
}

// appDir returns override when set, otherwise the application's directory
// under base, and creates it.
func appDir(override, base string) (string, error) {
	dir := override
	if dir == "" {
		dir = filepath.Join(base, appName)
	}
	return dir, ensureDir(dir)
}

// ensureDir creates the directory and any necessary parents if it doesn't exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

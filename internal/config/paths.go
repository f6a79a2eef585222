package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName        = "vpanelctl"
	configFileName = "config.toml"
	tokenFileName  = "session.json"
	sessionDBName  = "session.db"
)

// DefaultConfigDir returns the directory holding config.toml:
// $XDG_CONFIG_HOME/vpanelctl (default ~/.config/vpanelctl) on Linux and
// other Unix systems, ~/Library/Application Support/vpanelctl on macOS.
func DefaultConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the directory holding session data:
// $XDG_DATA_HOME/vpanelctl (default ~/.local/share/vpanelctl), or the same
// Application Support directory as config on macOS.
func DefaultDataDir() string {
	return appDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// appDir resolves an XDG base directory with its home-relative fallback.
// Returns "" when the home directory is unknown.
func appDir(xdgVar, homeRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, homeRel, appName)
}

// DefaultConfigPath returns the config file path used when neither
// VPANEL_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultSessionPath returns where the given store backend keeps its data.
// The memory backend has no path.
func DefaultSessionPath(store string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	switch store {
	case StoreFile:
		return filepath.Join(dir, tokenFileName)
	case StoreSQLite:
		return filepath.Join(dir, sessionDBName)
	default:
		return ""
	}
}

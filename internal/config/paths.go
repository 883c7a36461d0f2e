package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName        = "gdrive-upsert"
	configFileName = "config.toml"
)

// appDir returns the per-user directory for gdrive-upsert under an XDG base
// directory. xdgVar names the override variable and fallback is the path
// below $HOME used when it is unset. macOS keeps config and data together in
// Application Support.
func appDir(xdgVar string, fallback ...string) string {
	if runtime.GOOS == "linux" {
		if base := os.Getenv(xdgVar); base != "" {
			return filepath.Join(base, appName)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	return filepath.Join(append(append([]string{home}, fallback...), appName)...)
}

// DefaultConfigDir is $XDG_CONFIG_HOME/gdrive-upsert, ~/.config/gdrive-upsert
// without it. Empty when the home directory is unknown.
func DefaultConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir holds the upload history database.
func DefaultDataDir() string {
	return appDir("XDG_DATA_HOME", ".local", "share")
}

// DefaultConfigPath is the config file read when neither --config nor
// GDRIVE_UPSERT_CONFIG names one.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

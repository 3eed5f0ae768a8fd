package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/sramprint/
//   - Linux:   $XDG_DATA_HOME/sramprint/ or ~/.local/share/sramprint/
//   - Windows: %APPDATA%\sramprint\
//
// Falls back to ~/.sramprint if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "sramprint")
	case "linux":
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "sramprint")
		}
		return filepath.Join(homeDir(), ".local", "share", "sramprint")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "sramprint")
		}
		return fallbackDataDir()
	default:
		return fallbackDataDir()
	}
}

func homeDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return home
}

func fallbackDataDir() string {
	return filepath.Join(homeDir(), ".sramprint")
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	for _, dir := range []string{".", SramprintDir()} {
		for _, ext := range SupportedConfigFormats() {
			for _, name := range []string{"sramprint.", "config."} {
				path := filepath.Join(dir, name+ext)
				if _, err := os.Stat(path); err == nil {
					return path
				}
			}
		}
	}
	return ""
}

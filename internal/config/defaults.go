package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "cinmatch"

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/cinmatch/
//   - Linux:   ~/.local/share/cinmatch/
//   - Windows: %APPDATA%\cinmatch\
//
// CINMATCH_DATA_DIR overrides all of them.
func PlatformDataDir() string {
	if dir := os.Getenv("CINMATCH_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(homeDir(), ".local", "share", appName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(homeDir(), "AppData", "Roaming", appName)
	default:
		return filepath.Join(homeDir(), "."+appName)
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/cinmatch/
//   - Linux:   ~/.config/cinmatch/
//   - Windows: %APPDATA%\cinmatch\
func PlatformConfigDir() string {
	if dir := os.Getenv("CINMATCH_DATA_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(homeDir(), ".config", appName)
	}
	return PlatformDataDir()
}

// PlatformLogDir returns the platform-specific log directory.
func PlatformLogDir() string {
	if runtime.GOOS == "darwin" && os.Getenv("CINMATCH_DATA_DIR") == "" {
		return filepath.Join(homeDir(), "Library", "Logs", appName)
	}
	return filepath.Join(PlatformDataDir(), "logs")
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

// DefaultPaths returns all default paths for a platform.
type DefaultPaths struct {
	DataDir   string
	ConfigDir string
	LogDir    string

	ConfigFile   string
	DatabaseFile string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()

	return &DefaultPaths{
		DataDir:   dataDir,
		ConfigDir: configDir,
		LogDir:    PlatformLogDir(),

		ConfigFile:   filepath.Join(configDir, "config.toml"),
		DatabaseFile: filepath.Join(dataDir, "tables.db"),
	}
}

package log

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "kalam"

// getDefaultDir returns ~/Library/Logs/kalam on macOS,
// %LOCALAPPDATA%\kalam\logs on Windows and $XDG_CONFIG_HOME/kalam/logs
// elsewhere.
func getDefaultDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", appName), nil
	case "windows":
		local, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(local, appName, "logs"), nil
	}
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg, appName, "logs"), nil
}

package env

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "llrecipe"

// WorkDir returns the default workspace holding source trees, build trees
// and published artifacts:
//
//	Linux:   $XDG_CACHE_HOME/llrecipe or ~/.cache/llrecipe
//	macOS:   ~/Library/Caches/llrecipe
func WorkDir() (string, error) {
	dir := filepath.Join(xdg.CacheHome, appName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// ConfigFile returns the path of the user configuration file. The file may
// not exist.
func ConfigFile() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

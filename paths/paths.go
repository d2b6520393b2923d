// Package paths resolves ironloop's own default data directories.
//
// The paths the harness uses during a run (prompt file, session output
// directory, counter file, event log, STOP sentinel) come from the config
// loader, and the status file is fixed under the working directory. This
// package only supplies the fallback location for the config file itself.
//
// Resolution order:
//  1. If ~/.ironloop/ exists → use legacy flat layout (all paths under it)
//  2. If XDG env vars are set → use XDG layout with proper separation
//  3. Fresh install, no XDG vars → default to ~/.ironloop/
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	stateDir  string
	legacy    bool
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	legacyDir := filepath.Join(home, ".ironloop")

	if info, err := os.Stat(legacyDir); err == nil && info.IsDir() {
		resolved = &resolvedPaths{configDir: legacyDir, stateDir: legacyDir, legacy: true}
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, "ironloop"),
			stateDir:  filepath.Join(xdgState, "ironloop"),
			legacy:    false,
		}
		return resolved, nil
	}

	resolved = &resolvedPaths{configDir: legacyDir, stateDir: legacyDir, legacy: true}
	return resolved, nil
}

// ConfigDir returns the directory ironloop.yaml is searched for by default.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// StateDir returns the state directory of the resolved layout. The driver
// does not use it: the counter and status files are placed relative to the
// working directory.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// DefaultConfigFilePath returns the full path to the default config file.
func DefaultConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ironloop.yaml"), nil
}

// IsLegacyLayout returns true if using the ~/.ironloop/ flat layout.
func IsLegacyLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.legacy
}

// Reset clears the cached path resolution. For tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}

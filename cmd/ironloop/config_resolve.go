package main

import (
	"os"

	"github.com/tgerrity/ironloop/paths"
)

// resolveConfigPath honors an explicit --config flag first; otherwise it
// prefers ./ironloop.yaml in the current directory (the common case, one
// harness per project checkout) and falls back to the user's XDG/legacy
// config directory only when no project-local file exists.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	const projectLocal = "ironloop.yaml"
	if _, err := os.Stat(projectLocal); err == nil {
		return projectLocal, nil
	}

	return paths.DefaultConfigFilePath()
}

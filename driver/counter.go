package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// readGlobalCounter reads the persisted global-iteration counter. A
// missing file is treated as counter value 0 (fresh install).
func readGlobalCounter(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading global counter file %q: %w", path, err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing global counter file %q: %w", path, err)
	}
	return value, nil
}

// writeGlobalCounter atomically persists value: write to a temp file in
// the same directory, then rename over the destination, so a crash never
// leaves a partially written counter observable.
func writeGlobalCounter(path string, value int64) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating counter directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".counter-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp counter file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := fmt.Fprintf(tmp, "%d\n", value); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp counter file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp counter file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp counter file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming counter file into place: %w", err)
	}
	return nil
}

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// RequiredDirectories lists the bookkeeping directories of a coderloop workspace.
func RequiredDirectories() []string {
	return []string{
		"state",  // state/run.json
		"events", // events/<run-id>.ndjson
	}
}

// Initialize creates the bookkeeping directories (0700). Safe to repeat.
func Initialize(workspaceRoot string) error {
	for _, dir := range RequiredDirectories() {
		path := filepath.Join(workspaceRoot, dir)
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// IsInitialized reports whether every required directory exists.
func IsInitialized(workspaceRoot string) (bool, error) {
	for _, dir := range RequiredDirectories() {
		path := filepath.Join(workspaceRoot, dir)

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to check directory %s: %w", path, err)
		}
		if !info.IsDir() {
			return false, nil
		}
	}
	return true, nil
}

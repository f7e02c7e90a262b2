package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindUpward looks for name in startPath and each of its parents and
// returns the first match.
func FindUpward(startPath, name string) (string, error) {
	currentPath := filepath.Clean(startPath)

	for {
		candidate := filepath.Join(currentPath, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parentPath := filepath.Dir(currentPath)
		// Stop if we've reached the root or can't go higher
		if parentPath == currentPath || parentPath == "." {
			break
		}
		currentPath = parentPath
	}
	return "", fmt.Errorf("%s not found in %s or any parent directory", name, startPath)
}

// GetProjectRoot returns the directory holding the nearest name, searching
// upward from the working directory.
func GetProjectRoot(name string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	p, err := FindUpward(wd, name)
	if err != nil {
		return "", err
	}
	return filepath.Dir(p), nil
}

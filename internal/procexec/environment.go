package procexec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DefaultEnvironmentFile is the environment file shipped next to the
// binary's directory, as in an installed package tree (<prefix>/bin/..).
func DefaultEnvironmentFile() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "..", "environment")
}

// LoadEnvironment reads KEY=VALUE assignments (an optional leading "export"
// is accepted) to overlay on every external command. An empty path yields
// no overlay.
func LoadEnvironment(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read environment %s: %w", path, err)
	}
	return vars, nil
}

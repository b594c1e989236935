package global

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns ~/.hapibridge.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("HAPIBRIDGE_CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hapibridge"), nil
}

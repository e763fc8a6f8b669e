package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

//go:embed env.sample
var configFS embed.FS

// SetupConfigDirectory creates configDir and writes a commented .env template
// into it. An existing .env is kept unless backupExisting is set, in which case
// it is copied aside before being replaced.
func SetupConfigDirectory(configDir string, backupExisting bool) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}

	target := filepath.Join(configDir, ".env")
	if _, err := os.Stat(target); err == nil {
		if !backupExisting {
			return target, nil
		}
		existing, err := os.ReadFile(target)
		if err != nil {
			return "", fmt.Errorf("failed to read existing file for backup: %w", err)
		}
		backupPath := fmt.Sprintf("%s.%s.bak", target, time.Now().Format("2006-01-02"))
		if err := os.WriteFile(backupPath, existing, 0600); err != nil {
			return "", fmt.Errorf("failed to write backup file: %w", err)
		}
	}

	data, err := configFS.ReadFile("env.sample")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(target, data, 0600); err != nil {
		return "", err
	}
	return target, nil
}

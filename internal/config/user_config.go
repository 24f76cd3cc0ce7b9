package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// UserConfig manages per-user data and configuration directories
type UserConfig struct {
	BaseDir   string // $HOME/.kanoa
	LogsDir   string // $HOME/.kanoa/logs
	ConfigDir string // $XDG_CONFIG_HOME/kanoa (.env, pricing.json)
	KBHome    string // $XDG_CACHE_HOME/kanoa/kb
}

// DefaultUserConfig creates the default user configuration
func DefaultUserConfig() (*UserConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		cacheHome = filepath.Join(homeDir, ".cache")
	}

	baseDir := filepath.Join(homeDir, ".kanoa")
	config := &UserConfig{
		BaseDir:   baseDir,
		LogsDir:   filepath.Join(baseDir, "logs"),
		ConfigDir: configHome(),
		KBHome:    filepath.Join(cacheHome, "kanoa", "kb"),
	}

	if err := config.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create user directories: %w", err)
	}

	return config, nil
}

// EnsureDirectories creates the user data directories if they don't exist.
// ConfigDir is left alone; it is only read.
func (c *UserConfig) EnsureDirectories() error {
	for _, dir := range []string{c.BaseDir, c.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ResolveKBPath resolves a knowledge base name relative to KBHome when it is
// not an existing path.
func (c *UserConfig) ResolveKBPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	candidate := filepath.Join(c.KBHome, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// UsageLedgerPath returns the default SQLite usage ledger location
func (c *UserConfig) UsageLedgerPath() string {
	return filepath.Join(c.BaseDir, "usage.db")
}

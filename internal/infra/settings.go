package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const settingsFileName = "settings.json"

// SettingsSearchPaths lists candidate settings files in order of preference:
// the project-local .kanoa directory, then $HOME/.kanoa.
func SettingsSearchPaths() []string {
	paths := []string{filepath.Join(".kanoa", settingsFileName)}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".kanoa", settingsFileName))
	}
	return paths
}

// FileSettingsRepository persists settings as a JSON file
type FileSettingsRepository struct {
	configPath string // empty means search SettingsSearchPaths
}

// NewFileSettingsRepository creates a new file-based settings repository
func NewFileSettingsRepository(configPath string) *FileSettingsRepository {
	return &FileSettingsRepository{configPath: configPath}
}

func (fr *FileSettingsRepository) Load() ([]byte, error) {
	configPath := fr.configPath
	if configPath == "" {
		foundPath, err := fr.FindSettingsFile()
		if err != nil {
			return nil, err
		}
		if foundPath == "" {
			return nil, fmt.Errorf("no settings file found")
		}
		configPath = foundPath
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("settings file does not exist: %s", configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return data, nil
}

func (fr *FileSettingsRepository) Save(data []byte) error {
	configPath := fr.configPath
	if configPath == "" {
		foundPath, _ := fr.FindSettingsFile()
		if foundPath == "" {
			foundPath = SettingsSearchPaths()[0]
		}
		configPath = foundPath
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// Settings may carry API keys.
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

func (fr *FileSettingsRepository) FindSettingsFile() (string, error) {
	for _, path := range SettingsSearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// InMemorySettingsRepository keeps settings for tests and ephemeral runs
type InMemorySettingsRepository struct {
	mu   sync.Mutex
	data []byte
}

// NewInMemorySettingsRepository creates a new in-memory settings repository
func NewInMemorySettingsRepository() *InMemorySettingsRepository {
	return &InMemorySettingsRepository{}
}

func (mr *InMemorySettingsRepository) Load() ([]byte, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.data == nil {
		return nil, fmt.Errorf("no data stored in memory repository")
	}
	return append([]byte(nil), mr.data...), nil
}

func (mr *InMemorySettingsRepository) Save(data []byte) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.data = append([]byte(nil), data...)
	return nil
}

func (mr *InMemorySettingsRepository) FindSettingsFile() (string, error) {
	return "", nil
}

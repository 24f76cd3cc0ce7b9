package repository

// SettingsRepository persists the raw settings document.
type SettingsRepository interface {
	Load() ([]byte, error)
	Save(data []byte) error
	// FindSettingsFile returns the path the document is read from.
	FindSettingsFile() (string, error)
}

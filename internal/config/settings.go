package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fpt/kanoa/internal/infra"
	"github.com/fpt/kanoa/internal/repository"
	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

// Token guard defaults. The warn threshold matches the smallest vendor
// context-cache minimum.
const (
	DefaultTokenWarnThreshold     = 2048
	DefaultTokenApprovalThreshold = 50_000
	DefaultTokenRejectThreshold   = 200_000

	DefaultCacheTTL = time.Hour
)

// Cache store kinds
const (
	CacheStoreMemory = "memory"
	CacheStoreSQLite = "sqlite"
	CacheStoreRedis  = "redis"
)

// Settings represents the main application settings
type Settings struct {
	DefaultBackend string                     `json:"default_backend"`
	Backends       map[string]BackendSettings `json:"backends,omitempty"`
	Cache          CacheSettings              `json:"cache"`
	Knowledge      KnowledgeSettings          `json:"knowledge"`
	PricingPath    string                     `json:"pricing_path,omitempty"` // empty = ~/.config/kanoa/pricing.json
	PricingTier    string                     `json:"pricing_tier,omitempty"`
	PromptsPath    string                     `json:"prompts_path,omitempty"`
	TokenGuard     TokenGuardSettings         `json:"token_guard"`
	Usage          UsageSettings              `json:"usage"`
	Telemetry      TelemetrySettings          `json:"telemetry"`
	Gateway        GatewaySettings            `json:"gateway"`
	LogLevel       string                     `json:"log_level"`

	// Repository for persistence (nil for in-memory only)
	settingsRepository repository.SettingsRepository `json:"-"`
}

// BackendSettings configures one vendor adapter
type BackendSettings struct {
	Model            string   `json:"model,omitempty"`
	APIKey           string   `json:"api_key,omitempty"`
	BaseURL          string   `json:"base_url,omitempty"`
	Project          string   `json:"project,omitempty"`  // Vertex AI
	Location         string   `json:"location,omitempty"` // Vertex AI
	MaxTokens        int      `json:"max_tokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	InlineLimitBytes int64    `json:"inline_limit_bytes,omitempty"`
}

// CacheSettings controls provider-side context caching
type CacheSettings struct {
	Enabled bool     `json:"enabled"`
	TTL     Duration `json:"ttl"`
	Store   string   `json:"store"` // memory, sqlite or redis
	// SQLitePath defaults to ~/.kanoa/cache.db
	SQLitePath string `json:"sqlite_path,omitempty"`
	RedisAddr  string `json:"redis_addr,omitempty"`
	// RefreshWindow extends provider TTL on hits that are this close to expiry. Zero disables.
	RefreshWindow Duration `json:"refresh_window,omitempty"`
}

// KnowledgeSettings holds knowledge base defaults
type KnowledgeSettings struct {
	Type string `json:"kb_type"` // text, pdf or auto
}

// TokenGuardSettings bounds request size before anything is sent
type TokenGuardSettings struct {
	Warn        int  `json:"warn"`
	Approval    int  `json:"approval"`
	Reject      int  `json:"reject"`
	AutoApprove bool `json:"auto_approve"`
}

// UsageSettings controls persistence of usage records
type UsageSettings struct {
	LedgerPath string `json:"ledger_path,omitempty"` // empty disables the ledger
}

// TelemetrySettings selects the trace exporter
type TelemetrySettings struct {
	Exporter string `json:"exporter"` // none, stdout or otlp
	Endpoint string `json:"endpoint,omitempty"`
}

// GatewaySettings configures the HTTP gateway
type GatewaySettings struct {
	Addr string `json:"addr"`
	// SessionTimeout expires sessions idle for longer than this.
	SessionTimeout Duration `json:"session_timeout"`
}

// Duration is a time.Duration encoded as a Go duration string in JSON
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Plain numbers are seconds.
		var secs float64
		if err2 := json.Unmarshal(b, &secs); err2 != nil {
			return fmt.Errorf("invalid duration %s", string(b))
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// KnownBackends lists every backend identifier the registry can construct
func KnownBackends() []string {
	return []string{
		domain.BackendGemini,
		domain.BackendClaude,
		domain.BackendOpenAI,
		domain.BackendVLLM,
		domain.BackendMolmo,
		domain.BackendOllama,
	}
}

// NewSettings creates new settings with in-memory repository
func NewSettings() *Settings {
	return NewSettingsWithRepository(infra.NewInMemorySettingsRepository())
}

// NewSettingsWithRepository creates new settings with injected repository
func NewSettingsWithRepository(settingsRepository repository.SettingsRepository) *Settings {
	settings := GetDefaultSettings()
	settings.settingsRepository = settingsRepository
	return settings
}

// NewSettingsWithPath creates new settings with file-based repository
func NewSettingsWithPath(configPath string) *Settings {
	return NewSettingsWithRepository(infra.NewFileSettingsRepository(configPath))
}

// Load loads settings from the repository
func (s *Settings) Load() error {
	if s.settingsRepository == nil {
		return fmt.Errorf("no settings repository configured")
	}

	data, err := s.settingsRepository.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}

	applyDefaults(s)
	return nil
}

// Save saves settings to the repository
func (s *Settings) Save() error {
	if s.settingsRepository == nil {
		return fmt.Errorf("no settings repository configured")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	return s.settingsRepository.Save(data)
}

// LoadSettings loads settings from configPath, or searches the default
// locations when configPath is empty. A default file is created when none exists.
func LoadSettings(configPath string) (*Settings, error) {
	settings := NewSettingsWithPath(configPath)

	if configPath == "" {
		foundPath, _ := settings.settingsRepository.FindSettingsFile()
		if foundPath == "" {
			return createDefaultSettingsFile()
		}
	}

	if err := settings.Load(); err != nil {
		if configPath != "" {
			return createSettingsFileAtPath(configPath)
		}
		return GetDefaultSettings(), nil
	}

	return settings, nil
}

// GetDefaultSettings returns default application settings
func GetDefaultSettings() *Settings {
	backends := make(map[string]BackendSettings)
	for _, id := range KnownBackends() {
		backends[id] = GetDefaultBackendSettings(id)
	}
	return &Settings{
		DefaultBackend: domain.BackendGemini,
		Backends:       backends,
		Cache: CacheSettings{
			Enabled: true,
			TTL:     Duration{DefaultCacheTTL},
			Store:   CacheStoreSQLite,
		},
		Knowledge:   KnowledgeSettings{Type: "auto"},
		PricingTier: "default",
		TokenGuard: TokenGuardSettings{
			Warn:     DefaultTokenWarnThreshold,
			Approval: DefaultTokenApprovalThreshold,
			Reject:   DefaultTokenRejectThreshold,
		},
		Telemetry: TelemetrySettings{Exporter: "none"},
		Gateway:   GatewaySettings{Addr: ":8080", SessionTimeout: Duration{30 * time.Minute}},
		LogLevel:  "info",
	}
}

// GetDefaultBackendSettings returns default settings for a specific backend
func GetDefaultBackendSettings(backend string) BackendSettings {
	switch backend {
	case domain.BackendGemini:
		return BackendSettings{Model: "gemini-3-pro-preview", MaxTokens: 3000}
	case domain.BackendClaude:
		return BackendSettings{Model: "claude-sonnet-4-5-20250929", MaxTokens: 3000}
	case domain.BackendOpenAI:
		return BackendSettings{Model: "gpt-5-mini", MaxTokens: 3000}
	case domain.BackendVLLM:
		return BackendSettings{Model: "google/gemma-3-12b-it", BaseURL: "http://localhost:8000/v1", MaxTokens: 3000}
	case domain.BackendMolmo:
		return BackendSettings{Model: "allenai/Molmo-7B-D-0924", BaseURL: "http://localhost:8000/v1", MaxTokens: 3000}
	case domain.BackendOllama:
		return BackendSettings{Model: "gemma3:4b", BaseURL: "http://localhost:11434", MaxTokens: 3000}
	default:
		return BackendSettings{MaxTokens: 3000}
	}
}

// Backend returns configured settings for id with defaults filled in
func (s *Settings) Backend(id string) BackendSettings {
	def := GetDefaultBackendSettings(id)
	bs, ok := s.Backends[id]
	if !ok {
		return def
	}
	if bs.Model == "" {
		bs.Model = def.Model
	}
	if bs.BaseURL == "" {
		bs.BaseURL = def.BaseURL
	}
	if bs.MaxTokens == 0 {
		bs.MaxTokens = def.MaxTokens
	}
	return bs
}

// CacheDBPath returns the SQLite cache path, defaulting under the user base dir
func (s *Settings) CacheDBPath(uc *UserConfig) string {
	if s.Cache.SQLitePath != "" {
		return s.Cache.SQLitePath
	}
	return filepath.Join(uc.BaseDir, "cache.db")
}

// applyDefaults fills in missing fields with default values
func applyDefaults(settings *Settings) {
	defaults := GetDefaultSettings()

	if settings.DefaultBackend == "" {
		settings.DefaultBackend = defaults.DefaultBackend
	}
	if settings.Backends == nil {
		settings.Backends = defaults.Backends
	}
	if settings.Cache.TTL.Duration == 0 {
		settings.Cache.TTL = defaults.Cache.TTL
	}
	if settings.Cache.Store == "" {
		settings.Cache.Store = defaults.Cache.Store
	}
	if settings.Knowledge.Type == "" {
		settings.Knowledge.Type = defaults.Knowledge.Type
	}
	if settings.PricingTier == "" {
		settings.PricingTier = defaults.PricingTier
	}
	if settings.TokenGuard.Warn == 0 {
		settings.TokenGuard.Warn = defaults.TokenGuard.Warn
	}
	if settings.TokenGuard.Approval == 0 {
		settings.TokenGuard.Approval = defaults.TokenGuard.Approval
	}
	if settings.TokenGuard.Reject == 0 {
		settings.TokenGuard.Reject = defaults.TokenGuard.Reject
	}
	if settings.Telemetry.Exporter == "" {
		settings.Telemetry.Exporter = defaults.Telemetry.Exporter
	}
	if settings.Gateway.Addr == "" {
		settings.Gateway.Addr = defaults.Gateway.Addr
	}
	if settings.Gateway.SessionTimeout.Duration == 0 {
		settings.Gateway.SessionTimeout = defaults.Gateway.SessionTimeout
	}
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
}

// ValidateSettings validates the settings configuration. Credentials are
// checked lazily by the resolver when a backend is first used.
func ValidateSettings(settings *Settings) error {
	known := KnownBackends()
	if !slices.Contains(known, settings.DefaultBackend) {
		return fmt.Errorf("unsupported default backend: %s (must be one of %s)", settings.DefaultBackend, strings.Join(known, ", "))
	}
	for id := range settings.Backends {
		if !slices.Contains(known, id) {
			return fmt.Errorf("unsupported backend in settings: %s", id)
		}
	}

	switch settings.Cache.Store {
	case CacheStoreMemory, CacheStoreSQLite:
	case CacheStoreRedis:
		if settings.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis cache store")
		}
	default:
		return fmt.Errorf("unsupported cache store: %s", settings.Cache.Store)
	}
	if settings.Cache.TTL.Duration <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	switch settings.Knowledge.Type {
	case "text", "pdf", "auto":
	default:
		return fmt.Errorf("unsupported kb_type: %s (must be 'text', 'pdf', or 'auto')", settings.Knowledge.Type)
	}

	g := settings.TokenGuard
	if g.Warn > g.Approval || g.Approval > g.Reject {
		return fmt.Errorf("token_guard thresholds must satisfy warn <= approval <= reject")
	}

	switch settings.Telemetry.Exporter {
	case "none", "stdout":
	case "otlp":
		if settings.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unsupported telemetry exporter: %s", settings.Telemetry.Exporter)
	}

	return nil
}

// createDefaultSettingsFile creates a default settings.json file in ~/.kanoa/
func createDefaultSettingsFile() (*Settings, error) {
	paths := infra.SettingsSearchPaths()
	if len(paths) < 2 {
		return GetDefaultSettings(), nil
	}
	return createSettingsFileAtPath(paths[len(paths)-1])
}

// createSettingsFileAtPath creates a default settings file at the specified path
func createSettingsFileAtPath(settingsPath string) (*Settings, error) {
	settings := NewSettingsWithPath(settingsPath)

	if err := settings.Save(); err != nil {
		return GetDefaultSettings(), nil
	}

	log := pkgLogger.NewComponentLogger("settings")
	log.InfoWithIntention(pkgLogger.IntentionConfig, "Created default settings file", "path", settingsPath)
	log.InfoWithIntention(pkgLogger.IntentionStatus, "You can edit this file to customize your configuration")

	return settings, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/fpt/kanoa/pkg/domain"
)

func TestCreateDefaultSettingsFile(t *testing.T) {
	tempDir := t.TempDir()

	settingsPath := filepath.Join(tempDir, ".kanoa", "settings.json")
	settings, err := createSettingsFileAtPath(settingsPath)
	if err != nil {
		t.Fatalf("createSettingsFileAtPath failed: %v", err)
	}
	if settings.DefaultBackend != domain.BackendGemini {
		t.Errorf("Expected default backend %q, got %q", domain.BackendGemini, settings.DefaultBackend)
	}

	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		t.Fatal("Settings file was not created")
	}

	loaded, err := LoadSettings(settingsPath)
	if err != nil {
		t.Fatalf("Failed to load created settings file: %v", err)
	}
	if loaded.Cache.TTL.Duration != DefaultCacheTTL {
		t.Errorf("Expected cache ttl %v, got %v", DefaultCacheTTL, loaded.Cache.TTL.Duration)
	}
	if err := ValidateSettings(loaded); err != nil {
		t.Errorf("Default settings should validate: %v", err)
	}
}

func TestLoadSettingsCreatesFileWhenNoneExists(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)

	settings, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if settings == nil {
		t.Fatal("Expected non-nil settings")
	}

	expectedPath := filepath.Join(tempDir, ".kanoa", "settings.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatal("Settings file was not created in home directory")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	raw := `{"default_backend":"claude","cache":{"ttl":"30m","store":"sqlite"},"backends":{"claude":{"api_key":"k"}}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewSettingsWithPath(path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Cache.TTL.Duration != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", s.Cache.TTL.Duration)
	}
	if s.TokenGuard.Reject != DefaultTokenRejectThreshold {
		t.Errorf("reject threshold = %d", s.TokenGuard.Reject)
	}
	claude := s.Backend(domain.BackendClaude)
	if claude.APIKey != "k" || claude.Model != "claude-sonnet-4-5-20250929" {
		t.Errorf("unexpected claude settings: %+v", claude)
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"unknown backend", func(s *Settings) { s.DefaultBackend = "bard" }, true},
		{"redis without addr", func(s *Settings) { s.Cache.Store = CacheStoreRedis }, true},
		{"redis with addr", func(s *Settings) { s.Cache.Store = CacheStoreRedis; s.Cache.RedisAddr = "localhost:6379" }, false},
		{"bad kb type", func(s *Settings) { s.Knowledge.Type = "html" }, true},
		{"unordered guard", func(s *Settings) { s.TokenGuard.Warn = 100_000 }, true},
		{"otlp without endpoint", func(s *Settings) { s.Telemetry.Exporter = "otlp" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := GetDefaultSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSettings() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCredentialResolutionOrder(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("ANTHROPIC_API_KEY=from-file\nGOOGLE_CLOUD_PROJECT=proj-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	env := map[string]string{}
	r := &CredentialResolver{Getenv: func(k string) string { return env[k] }, EnvFile: envFile}

	creds, err := r.Resolve(domain.BackendClaude, BackendSettings{APIKey: "explicit"})
	if err != nil || creds.APIKey != "explicit" || creds.Source != SourceExplicit {
		t.Fatalf("explicit: got %+v, %v", creds, err)
	}

	env["ANTHROPIC_API_KEY"] = "from-env"
	creds, err = r.Resolve(domain.BackendClaude, BackendSettings{})
	if err != nil || creds.APIKey != "from-env" || creds.Source != SourceEnv {
		t.Fatalf("env: got %+v, %v", creds, err)
	}

	delete(env, "ANTHROPIC_API_KEY")
	creds, err = r.Resolve(domain.BackendClaude, BackendSettings{})
	if err != nil || creds.APIKey != "from-file" || creds.Source != SourceFile {
		t.Fatalf("file: got %+v, %v", creds, err)
	}

	creds, err = r.Resolve(domain.BackendGemini, BackendSettings{})
	if err != nil {
		t.Fatalf("gemini default discovery: %v", err)
	}
	if !creds.Vertex || creds.Project != "proj-file" || creds.Location != "us-central1" || creds.Source != SourceDefault {
		t.Errorf("unexpected gemini credentials: %+v", creds)
	}

	creds, err = r.Resolve(domain.BackendVLLM, BackendSettings{})
	if err != nil || creds.APIKey != "EMPTY" {
		t.Errorf("vllm default: got %+v, %v", creds, err)
	}
}

func TestCredentialResolutionMissingKey(t *testing.T) {
	r := &CredentialResolver{Getenv: func(string) string { return "" }}
	_, err := r.Resolve(domain.BackendOpenAI, BackendSettings{})
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"90s"`)); err != nil || d.Duration != 90*time.Second {
		t.Errorf("string form: %v, %v", d.Duration, err)
	}
	if err := d.UnmarshalJSON([]byte(`3600`)); err != nil || d.Duration != time.Hour {
		t.Errorf("seconds form: %v, %v", d.Duration, err)
	}
	if err := d.UnmarshalJSON([]byte(`"soon"`)); err == nil {
		t.Error("expected error for invalid duration")
	}
}

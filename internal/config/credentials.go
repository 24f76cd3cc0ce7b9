package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/fpt/kanoa/pkg/domain"
)

// CredentialSource records where a credential came from.
type CredentialSource string

const (
	SourceExplicit CredentialSource = "explicit"
	SourceEnv      CredentialSource = "env"
	SourceFile     CredentialSource = "config-file"
	SourceDefault  CredentialSource = "default"
)

// Credentials are the resolved connection parameters for a backend.
type Credentials struct {
	APIKey   string
	Project  string
	Location string
	// Vertex selects Google Cloud default credentials instead of an API key.
	Vertex bool
	Source CredentialSource
}

var envKeys = map[string][]string{
	domain.BackendGemini: {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	domain.BackendClaude: {"ANTHROPIC_API_KEY"},
	domain.BackendOpenAI: {"OPENAI_API_KEY"},
	domain.BackendVLLM:   {"VLLM_API_KEY"},
	domain.BackendMolmo:  {"MOLMO_API_KEY"},
}

// CredentialResolver resolves API keys: explicit parameter, environment,
// local .env file, then provider default discovery.
type CredentialResolver struct {
	Getenv  func(string) string
	EnvFile string
}

// NewCredentialResolver reads the process environment and ~/.config/kanoa/.env.
func NewCredentialResolver() *CredentialResolver {
	return &CredentialResolver{Getenv: os.Getenv, EnvFile: DefaultEnvFile()}
}

// DefaultEnvFile returns $XDG_CONFIG_HOME/kanoa/.env, falling back to ~/.config.
func DefaultEnvFile() string {
	return filepath.Join(configHome(), ".env")
}

// DefaultPricingOverride returns the user pricing override path.
func DefaultPricingOverride() string {
	return filepath.Join(configHome(), "pricing.json")
}

func configHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kanoa")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kanoa")
}

// Resolve returns credentials for backend given its configured settings.
func (r *CredentialResolver) Resolve(backend string, bs BackendSettings) (Credentials, error) {
	creds := Credentials{Project: bs.Project, Location: bs.Location}

	if bs.APIKey != "" {
		creds.APIKey = bs.APIKey
		creds.Source = SourceExplicit
		return creds, nil
	}

	names := envKeys[backend]
	for _, name := range names {
		if v := r.getenv(name); v != "" {
			creds.APIKey = v
			creds.Source = SourceEnv
			return creds, nil
		}
	}

	fileEnv := r.readEnvFile()
	for _, name := range names {
		if v := fileEnv[name]; v != "" {
			creds.APIKey = v
			creds.Source = SourceFile
			return creds, nil
		}
	}

	creds.Source = SourceDefault
	switch backend {
	case domain.BackendGemini:
		if creds.Project == "" {
			creds.Project = r.lookup("GOOGLE_CLOUD_PROJECT", fileEnv)
		}
		if creds.Project == "" {
			return creds, domain.NewAuthError(backend, "no API key found (set GEMINI_API_KEY) and no Google Cloud project for default credentials")
		}
		if creds.Location == "" {
			creds.Location = r.lookup("GOOGLE_CLOUD_LOCATION", fileEnv)
		}
		if creds.Location == "" {
			creds.Location = "us-central1"
		}
		creds.Vertex = true
		return creds, nil
	case domain.BackendVLLM, domain.BackendMolmo:
		// Self-hosted OpenAI-compatible servers accept any key.
		creds.APIKey = "EMPTY"
		return creds, nil
	case domain.BackendOllama:
		return creds, nil
	}

	if len(names) == 0 {
		return creds, domain.NewAuthError(backend, "no credentials configured")
	}
	return creds, domain.NewAuthError(backend, "no API key found (set "+names[0]+")")
}

func (r *CredentialResolver) getenv(name string) string {
	if r.Getenv == nil {
		return ""
	}
	return r.Getenv(name)
}

func (r *CredentialResolver) lookup(name string, fileEnv map[string]string) string {
	if v := r.getenv(name); v != "" {
		return v
	}
	return fileEnv[name]
}

// readEnvFile parses the .env file without touching the process environment.
func (r *CredentialResolver) readEnvFile() map[string]string {
	if r.EnvFile == "" {
		return nil
	}
	values, err := godotenv.Read(r.EnvFile)
	if err != nil {
		return nil
	}
	return values
}

package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpt/kanoa/internal/config"
	"github.com/fpt/kanoa/pkg/domain"
)

type stubBackend struct {
	name    string
	caching bool
}

func (s *stubBackend) Name() string  { return s.name }
func (s *stubBackend) Model() string { return "stub-model" }
func (s *stubBackend) Capabilities() domain.Capabilities {
	return domain.Capabilities{ContextCaching: s.caching}
}
func (s *stubBackend) Pricing() (domain.ModelPricing, error) { return domain.ModelPricing{}, nil }
func (s *stubBackend) Send(context.Context, *domain.Request, *domain.CacheEntry) (*domain.Response, error) {
	return &domain.Response{}, nil
}

type stubCachingBackend struct{ stubBackend }

func (s *stubCachingBackend) CreateCache(context.Context, *domain.Grounding, time.Duration) (*domain.CacheHandle, error) {
	return &domain.CacheHandle{Name: "h"}, nil
}
func (s *stubCachingBackend) DeleteCache(context.Context, string) error { return nil }

func TestLookupUnknownBackend(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubBackend{name: "a"})
	r.Register(&stubBackend{name: "b"})

	_, err := r.Lookup(t.Context(), "gpt-2")
	var ube *domain.UnsupportedBackendError
	if !errors.As(err, &ube) {
		t.Fatalf("expected UnsupportedBackendError, got %v", err)
	}
	if len(ube.Available) != 2 || ube.Available[0] != "a" || ube.Available[1] != "b" {
		t.Errorf("available = %v", ube.Available)
	}
}

func TestLookupIsLazyAndMemoized(t *testing.T) {
	r := NewRegistry()
	var calls atomic.Int32
	r.RegisterFactory("lazy", func(context.Context) (domain.Backend, error) {
		calls.Add(1)
		return &stubBackend{name: "lazy"}, nil
	})
	if calls.Load() != 0 {
		t.Fatal("factory ran at registration")
	}

	b1, err := r.Lookup(t.Context(), "lazy")
	if err != nil {
		t.Fatal(err)
	}
	b2, _ := r.Lookup(t.Context(), "lazy")
	if b1 != b2 || calls.Load() != 1 {
		t.Errorf("expected one construction, got %d", calls.Load())
	}
}

func TestLookupFailureIsNotMemoized(t *testing.T) {
	r := NewRegistry()
	fail := true
	r.RegisterFactory("flaky", func(context.Context) (domain.Backend, error) {
		if fail {
			return nil, domain.NewAuthError("flaky", "missing key")
		}
		return &stubBackend{name: "flaky"}, nil
	})

	if _, err := r.Lookup(t.Context(), "flaky"); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	if _, err := r.Lookup(t.Context(), "flaky"); err != nil {
		t.Errorf("second lookup: %v", err)
	}
}

func TestCacheProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubBackend{name: "plain"})
	r.Register(&stubCachingBackend{stubBackend{name: "caching", caching: true}})

	if _, ok := r.CacheProvider(t.Context(), "plain"); ok {
		t.Error("plain backend should have no cache provider")
	}
	if _, ok := r.CacheProvider(t.Context(), "caching"); !ok {
		t.Error("caching backend should expose its provider")
	}
	if _, ok := r.CacheProvider(t.Context(), "missing"); ok {
		t.Error("unknown backend should have no cache provider")
	}
}

func TestNewRegistryFromSettings(t *testing.T) {
	env := map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-test",
		"OPENAI_API_KEY":    "sk-test",
	}
	resolver := &config.CredentialResolver{Getenv: func(k string) string { return env[k] }}
	settings := config.GetDefaultSettings()

	r := NewRegistryFromSettings(settings, resolver, nil)
	if got := len(r.Names()); got != len(config.KnownBackends()) {
		t.Errorf("registered %d backends, want %d", got, len(config.KnownBackends()))
	}

	tests := []struct {
		id    string
		model string
	}{
		{domain.BackendClaude, "claude-sonnet-4-5-20250929"},
		{domain.BackendOpenAI, "gpt-5-mini"},
		{domain.BackendVLLM, "google/gemma-3-12b-it"},
		{domain.BackendMolmo, "allenai/Molmo-7B-D-0924"},
		{domain.BackendOllama, "gemma3:4b"},
	}
	for _, tt := range tests {
		b, err := r.Lookup(t.Context(), tt.id)
		if err != nil {
			t.Errorf("Lookup(%s): %v", tt.id, err)
			continue
		}
		if b.Name() != tt.id || b.Model() != tt.model {
			t.Errorf("Lookup(%s) = %s/%s, want model %s", tt.id, b.Name(), b.Model(), tt.model)
		}
	}

	// No Gemini key and no Google Cloud project.
	_, err := r.Lookup(t.Context(), domain.BackendGemini)
	var auth *domain.AuthError
	if !errors.As(err, &auth) {
		t.Errorf("gemini without credentials: got %v", err)
	}
}

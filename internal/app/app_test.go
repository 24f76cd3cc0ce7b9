package app

import (
	"bytes"
	"context"
	"os"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpt/kanoa/pkg/domain"
)

func writeSettings(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	return home
}

func TestOpenWiresSQLiteStoreAndLedger(t *testing.T) {
	home := isolateHome(t)
	dir := t.TempDir()
	path := writeSettings(t, dir, `{
		"default_backend": "claude",
		"cache": {"enabled": true, "ttl": "30m", "store": "sqlite", "sqlite_path": "`+filepath.Join(dir, "cache.db")+`"},
		"usage": {"ledger_path": "`+filepath.Join(dir, "usage.db")+`"},
		"telemetry": {"exporter": "none"}
	}`)

	var logs bytes.Buffer
	a, err := Open(context.Background(), Options{SettingsPath: path, Out: &logs})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if a.Caches == nil {
		t.Fatal("cache store not opened")
	}
	if a.Ledger == nil {
		t.Fatal("ledger not opened")
	}
	if a.UserConfig.BaseDir != filepath.Join(home, ".kanoa") {
		t.Errorf("base dir = %q", a.UserConfig.BaseDir)
	}
	if got := a.Backends.Names(); len(got) != 6 {
		t.Errorf("registered backends = %v", got)
	}

	// Records from a session land in the ledger.
	s := a.NewSession()
	s.Record(context.Background(), domain.UsageRecord{Backend: "claude", Model: "m", InputTokens: 10, Cost: 0.1})
	recs, err := a.Ledger.Session(context.Background(), s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("ledger records = %d, want 1", len(recs))
	}

	if a.NewInterpreter(s, nil) == nil {
		t.Fatal("nil interpreter")
	}

	n, err := a.Caches.Clear(context.Background(), "", "")
	if err != nil || n != 0 {
		t.Errorf("Clear on empty store = %d, %v", n, err)
	}
}

func TestOpenNoCacheOption(t *testing.T) {
	isolateHome(t)
	path := writeSettings(t, t.TempDir(), `{"cache": {"enabled": true}}`)

	a, err := Open(context.Background(), Options{SettingsPath: path, Out: &bytes.Buffer{}, NoCache: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.Caches != nil {
		t.Error("cache store opened despite NoCache")
	}
	if a.UsageOptions() != nil {
		t.Error("usage options without a ledger")
	}
}

func TestOpenRejectsInvalidSettings(t *testing.T) {
	isolateHome(t)
	path := writeSettings(t, t.TempDir(), `{"default_backend": "copilot"}`)

	if _, err := Open(context.Background(), Options{SettingsPath: path, Out: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unsupported default backend")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	isolateHome(t)
	path := writeSettings(t, t.TempDir(), `{"cache": {"enabled": true, "store": "memory"}}`)

	a, err := Open(context.Background(), Options{SettingsPath: path, Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

type cachingBackend struct {
	creates atomic.Int32
}

func (b *cachingBackend) Name() string  { return "gemini-3" }
func (b *cachingBackend) Model() string { return "gemini-3-pro-preview" }
func (b *cachingBackend) Capabilities() domain.Capabilities {
	return domain.Capabilities{ContextCaching: true}
}
func (b *cachingBackend) Pricing() (domain.ModelPricing, error) {
	return domain.ModelPricing{MinCacheTokens: 1024}, nil
}
func (b *cachingBackend) Send(context.Context, *domain.Request, *domain.CacheEntry) (*domain.Response, error) {
	return &domain.Response{}, nil
}
func (b *cachingBackend) CreateCache(context.Context, *domain.Grounding, time.Duration) (*domain.CacheHandle, error) {
	return &domain.CacheHandle{Name: fmt.Sprintf("cachedContents/%d", b.creates.Add(1))}, nil
}
func (b *cachingBackend) DeleteCache(context.Context, string) error { return nil }

func TestSecondRunReusesCacheEntry(t *testing.T) {
	isolateHome(t)
	path := writeSettings(t, t.TempDir(), `{"telemetry": {"exporter": "none"}}`)
	b := &cachingBackend{}
	g := &domain.Grounding{Source: "/kb (text)", Text: "facts", Fingerprint: "fp1", Tokens: 5000}

	run := func() (*domain.CacheEntry, bool) {
		t.Helper()
		a, err := Open(context.Background(), Options{SettingsPath: path, Out: &bytes.Buffer{}})
		if err != nil {
			t.Fatal(err)
		}
		defer a.Close()
		if a.Settings.Cache.Store != "sqlite" {
			t.Fatalf("default cache store = %q, want sqlite", a.Settings.Cache.Store)
		}
		entry, created, err := a.Caches.GetOrCreate(context.Background(), b, g, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		return entry, created
	}

	first, created := run()
	if !created {
		t.Fatal("first run did not create a cache")
	}
	second, created := run()
	if created {
		t.Error("second run created a new cache")
	}
	if second.Handle != first.Handle {
		t.Errorf("handle = %s, want %s", second.Handle, first.Handle)
	}
	if n := b.creates.Load(); n != 1 {
		t.Errorf("creates = %d, want 1", n)
	}
}

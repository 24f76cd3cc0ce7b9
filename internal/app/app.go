// Package app wires settings into the runtime objects shared by the CLI and
// the gateway.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	pkgErrors "github.com/pkg/errors"

	"github.com/fpt/kanoa/internal/config"
	"github.com/fpt/kanoa/internal/infra"
	"github.com/fpt/kanoa/internal/telemetry"
	"github.com/fpt/kanoa/pkg/cache"
	"github.com/fpt/kanoa/pkg/client"
	"github.com/fpt/kanoa/pkg/interpreter"
	"github.com/fpt/kanoa/pkg/knowledge"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
	"github.com/fpt/kanoa/pkg/pricing"
	"github.com/fpt/kanoa/pkg/prompt"
	"github.com/fpt/kanoa/pkg/usage"
)

// Options control how App is assembled.
type Options struct {
	SettingsPath string
	// LogLevel overrides settings.log_level when set.
	LogLevel string
	// ServiceName names the tracer resource.
	ServiceName string
	// Out receives console log output. Defaults to stderr.
	Out io.Writer
	// NoCache disables the cache store regardless of settings.
	NoCache bool
}

// App holds everything a command needs to run interpretations.
type App struct {
	Settings   *config.Settings
	UserConfig *config.UserConfig
	Logger     *pkgLogger.Logger
	Pricing    *pricing.Catalog
	Templates  *prompt.Templates
	Backends   *client.Registry
	// Caches is nil when caching is disabled.
	Caches *cache.Store
	// Ledger is nil when no ledger path is configured.
	Ledger *usage.SQLiteLedger

	closers  []io.Closer
	shutdown telemetry.Shutdown
}

// Open loads settings and builds the shared runtime.
func Open(ctx context.Context, opts Options) (*App, error) {
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "kanoa"
	}

	settings, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		fmt.Fprintf(opts.Out, "Warning: failed to load settings: %v\n", err)
		settings = config.GetDefaultSettings()
	}
	if err := config.ValidateSettings(settings); err != nil {
		return nil, pkgErrors.Wrap(err, "invalid settings")
	}

	logLevel := settings.LogLevel
	if opts.LogLevel != "" {
		logLevel = opts.LogLevel
	}
	pkgLogger.SetGlobalLoggerWithConsoleWriter(pkgLogger.LogLevel(logLevel), opts.Out)
	logger := pkgLogger.NewLoggerWithConsoleWriter(pkgLogger.LogLevel(logLevel), opts.Out)

	uc, err := config.DefaultUserConfig()
	if err != nil {
		return nil, err
	}

	a := &App{Settings: settings, UserConfig: uc, Logger: logger}

	overridePath := settings.PricingPath
	if overridePath == "" {
		overridePath = config.DefaultPricingOverride()
	}
	a.Pricing, err = pricing.Load(pricing.WithOverride(overridePath), pricing.WithTier(settings.PricingTier))
	if err != nil {
		return nil, pkgErrors.Wrap(err, "load pricing")
	}

	if settings.PromptsPath != "" {
		a.Templates, err = prompt.LoadFile(settings.PromptsPath)
		if err != nil {
			return nil, err
		}
		if a.Templates == nil {
			logger.WarnWithIntention(pkgLogger.IntentionWarning, "Prompt templates unusable, using built-ins",
				"path", settings.PromptsPath)
		}
	}

	a.Backends = client.NewRegistryFromSettings(settings, config.NewCredentialResolver(), a.Pricing)

	if settings.Cache.Enabled && !opts.NoCache {
		if err := a.openCacheStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if settings.Usage.LedgerPath != "" {
		a.Ledger, err = usage.OpenLedger(settings.Usage.LedgerPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.Ledger)
	}

	a.shutdown, err = telemetry.InitTracer(ctx, opts.ServiceName, settings.Telemetry)
	if err != nil {
		a.Close()
		return nil, pkgErrors.Wrap(err, "init tracer")
	}

	logger.DebugWithIntention(pkgLogger.IntentionConfig, "Runtime ready",
		"default_backend", settings.DefaultBackend,
		"cache_store", a.cacheStoreKind(),
		"ledger", settings.Usage.LedgerPath != "",
		"exporter", settings.Telemetry.Exporter)
	return a, nil
}

func (a *App) openCacheStore(ctx context.Context) error {
	var registry cache.Registry
	switch a.Settings.Cache.Store {
	case config.CacheStoreSQLite:
		r, err := cache.OpenSQLiteRegistry(a.Settings.CacheDBPath(a.UserConfig))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, r)
		registry = r
	case config.CacheStoreRedis:
		r, err := cache.DialRedisRegistry(ctx, a.Settings.Cache.RedisAddr)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, r)
		registry = r
	default:
		registry = cache.NewMemoryRegistry()
	}

	a.Caches = cache.NewStore(registry,
		cache.WithProviders(a.Backends),
		cache.WithRefreshWindow(a.Settings.Cache.RefreshWindow.Duration),
		cache.WithLogger(a.Logger.WithComponent("cache")),
	)
	return nil
}

func (a *App) cacheStoreKind() string {
	if a.Caches == nil {
		return "disabled"
	}
	return a.Settings.Cache.Store
}

// NewSession starts a usage session mirrored into the ledger when one is open.
func (a *App) NewSession(opts ...usage.Option) *usage.Session {
	if a.Ledger != nil {
		opts = append(opts, usage.WithLedger(a.Ledger))
	}
	return usage.NewSession(opts...)
}

// UsageOptions returns the options every new session should carry.
func (a *App) UsageOptions() []usage.Option {
	if a.Ledger == nil {
		return nil
	}
	return []usage.Option{usage.WithLedger(a.Ledger)}
}

// NewInterpreter builds an interpreter recording into session. approver
// may be nil, in which case requests above the approval threshold are
// rejected unless settings auto-approve them. extra options are applied
// last and override the defaults.
func (a *App) NewInterpreter(session *usage.Session, approver interpreter.Approver, extra ...interpreter.Option) *interpreter.Interpreter {
	s := a.Settings
	kbType, err := knowledge.ParseType(s.Knowledge.Type)
	if err != nil {
		kbType = knowledge.TypeAuto
	}

	opts := []interpreter.Option{
		interpreter.WithSession(session),
		interpreter.WithFilesystem(infra.NewOSFilesystemRepository()),
		interpreter.WithTemplates(a.Templates),
		interpreter.WithTokenGuard(interpreter.TokenGuard{
			Warn:        s.TokenGuard.Warn,
			Approval:    s.TokenGuard.Approval,
			Reject:      s.TokenGuard.Reject,
			AutoApprove: s.TokenGuard.AutoApprove,
		}),
		interpreter.WithCacheTTL(s.Cache.TTL.Duration),
		interpreter.WithDefaultBackend(s.DefaultBackend),
		interpreter.WithKnowledgeType(kbType),
		interpreter.WithLogger(a.Logger.WithComponent("interpreter")),
	}
	if a.Caches != nil {
		opts = append(opts, interpreter.WithCacheStore(a.Caches))
	}
	if approver != nil {
		opts = append(opts, interpreter.WithApprover(approver))
	}
	return interpreter.New(a.Backends, append(opts, extra...)...)
}

// Close flushes telemetry and releases stores.
func (a *App) Close() error {
	if a.shutdown != nil {
		a.shutdown()
		a.shutdown = nil
	}
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

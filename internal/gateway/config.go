package gateway

import (
	"path/filepath"
	"time"

	"github.com/fpt/kanoa/internal/config"
)

// Config is the runtime configuration of the HTTP gateway.
type Config struct {
	Addr           string
	SessionTimeout time.Duration // Inactivity timeout for sessions
	ReapInterval   time.Duration // How often idle sessions are swept
	// KBRoot confines kb_path to this directory when set. Requests naming
	// a path outside it are rejected; accepted paths stay relative, so the
	// interpreters must read through a filesystem rooted at KBRoot.
	KBRoot string
	// MaxBodyBytes bounds the interpret request body.
	MaxBodyBytes int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		SessionTimeout: 30 * time.Minute,
		ReapInterval:   time.Minute,
		MaxBodyBytes:   64 << 20,
	}
}

// ConfigFromSettings derives the gateway config from application settings.
func ConfigFromSettings(s config.GatewaySettings) Config {
	cfg := DefaultConfig()
	if s.Addr != "" {
		cfg.Addr = s.Addr
	}
	if s.SessionTimeout.Duration > 0 {
		cfg.SessionTimeout = s.SessionTimeout.Duration
	}
	// Sweep often enough that sessions never outlive the timeout by much.
	if cfg.SessionTimeout/4 < cfg.ReapInterval {
		cfg.ReapInterval = max(cfg.SessionTimeout/4, time.Second)
	}
	return cfg
}

// resolveKBPath validates a request kb_path. With a root configured the path
// must be local and is returned slash separated, relative to that root.
func (c Config) resolveKBPath(path string) (string, bool) {
	if path == "" || c.KBRoot == "" {
		return path, true
	}
	if !filepath.IsLocal(path) {
		return "", false
	}
	return filepath.ToSlash(filepath.Clean(path)), true
}

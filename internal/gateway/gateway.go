// Package gateway exposes interpretation sessions over HTTP.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fpt/kanoa/pkg/cache"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
	"github.com/fpt/kanoa/pkg/usage"
)

const shutdownTimeout = 10 * time.Second

// Gateway is the HTTP front end: a session manager, its reaper and the
// router.
type Gateway struct {
	config   Config
	sessions *SessionManager
	reaper   *Reaper
	handler  *Handler
	logger   *pkgLogger.Logger
}

// NewGateway creates a gateway. caches may be nil when caching is disabled.
func NewGateway(cfg Config, factory InterpreterFactory, caches *cache.Store, logger *pkgLogger.Logger, usageOpts ...usage.Option) *Gateway {
	sessions := NewSessionManager(factory, cfg.SessionTimeout, usageOpts...)
	return &Gateway{
		config:   cfg,
		sessions: sessions,
		reaper:   NewReaper(sessions, cfg.ReapInterval, logger),
		handler:  NewHandler(cfg, sessions, caches, logger),
		logger:   logger.WithComponent("gateway"),
	}
}

// Handler returns the routed HTTP handler.
func (gw *Gateway) Handler() http.Handler {
	return gw.handler.Routes()
}

// Sessions exposes the session manager.
func (gw *Gateway) Sessions() *SessionManager {
	return gw.sessions
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (gw *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              gw.config.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go gw.reaper.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		gw.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Gateway listening", "addr", gw.config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	gw.logger.Info("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

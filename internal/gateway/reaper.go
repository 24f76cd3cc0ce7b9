package gateway

import (
	"context"
	"time"

	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

// Reaper periodically expires idle sessions.
type Reaper struct {
	sessions *SessionManager
	interval time.Duration
	logger   *pkgLogger.Logger
}

// NewReaper creates a reaper for sessions.
func NewReaper(sessions *SessionManager, interval time.Duration, logger *pkgLogger.Logger) *Reaper {
	return &Reaper{
		sessions: sessions,
		interval: interval,
		logger:   logger.WithComponent("reaper"),
	}
}

// Start runs the ticker loop. Blocks until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	if r.interval <= 0 || r.sessions.timeout <= 0 {
		return
	}

	r.logger.Info("Session reaper started", "interval", r.interval, "timeout", r.sessions.timeout)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	for _, id := range r.sessions.ExpireIdle() {
		r.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Expired idle session", "session_id", id)
	}
}

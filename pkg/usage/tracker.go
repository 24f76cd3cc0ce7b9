// Package usage accumulates token counts and cost for an interpretation session.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

// Ledger persists usage records beyond the lifetime of a session.
type Ledger interface {
	Append(ctx context.Context, sessionID string, rec domain.UsageRecord) error
}

// Summary is the aggregate view of a session.
type Summary struct {
	SessionID string                        `json:"session_id"`
	StartedAt time.Time                     `json:"started_at"`
	Requests  int                           `json:"requests"`
	Total     domain.UsageRecord            `json:"total"`
	ByBackend map[string]domain.UsageRecord `json:"by_backend"`
}

// Session is the per-session usage tracker. It is safe for concurrent use;
// records are kept in commit order.
type Session struct {
	id        string
	startedAt time.Time
	ledger    Ledger
	logger    *pkgLogger.Logger

	mu      sync.Mutex
	records []domain.UsageRecord
}

// Option configures a Session.
type Option func(*Session)

// WithID sets an explicit session identifier.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithLedger mirrors every record into l.
func WithLedger(l Ledger) Option {
	return func(s *Session) { s.ledger = l }
}

// WithLogger overrides the component logger.
func WithLogger(l *pkgLogger.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession starts an empty session.
func NewSession(opts ...Option) *Session {
	s := &Session{startedAt: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.logger == nil {
		s.logger = pkgLogger.NewComponentLogger("usage")
	}
	s.logger = s.logger.WithSession(s.id)
	return s
}

func (s *Session) ID() string { return s.id }

// Record appends rec to the session log. Ledger failures are logged and do
// not affect the in-memory log.
func (s *Session) Record(ctx context.Context, rec domain.UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	s.logger.DebugWithIntention(pkgLogger.IntentionCost, "Recorded usage",
		"backend", rec.Backend, "model", rec.Model,
		"input", rec.InputTokens, "cached", rec.CachedTokens, "output", rec.OutputTokens,
		"cost_usd", rec.Cost)

	if s.ledger != nil {
		if err := s.ledger.Append(context.WithoutCancel(ctx), s.id, rec); err != nil {
			s.logger.WarnWithIntention(pkgLogger.IntentionWarning, "Failed to persist usage record", "error", err)
		}
	}
}

// Records returns a copy of the ordered log.
func (s *Session) Records() []domain.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Total returns the elementwise sum of every record in the session.
func (s *Session) Total() domain.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total domain.UsageRecord
	for i, r := range s.records {
		if i == 0 {
			total = r
			continue
		}
		total = total.Add(r)
	}
	return total
}

// Summary returns totals plus a per-backend breakdown.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		SessionID: s.id,
		StartedAt: s.startedAt,
		Requests:  len(s.records),
		ByBackend: make(map[string]domain.UsageRecord),
	}
	for i, r := range s.records {
		if i == 0 {
			sum.Total = r
		} else {
			sum.Total = sum.Total.Add(r)
		}
		if prev, ok := sum.ByBackend[r.Backend]; ok {
			sum.ByBackend[r.Backend] = prev.Add(r)
		} else {
			sum.ByBackend[r.Backend] = r
		}
	}
	return sum
}

// Reset clears the in-memory log. Persisted records are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

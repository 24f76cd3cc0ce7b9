package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fpt/kanoa/pkg/domain"
)

// SQLiteLedger stores usage records in a SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

const createUsageTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	backend TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	cached_tokens INTEGER NOT NULL,
	cache_write_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	savings_usd REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id, created_at);
`

// BackendTotal aggregates persisted usage for one backend/model pair.
type BackendTotal struct {
	Backend  string
	Model    string
	Requests int
	Usage    domain.UsageRecord
}

// OpenLedger opens (or creates) the ledger at dbPath.
func OpenLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	if _, err := db.Exec(createUsageTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage ledger: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Append inserts one record.
func (l *SQLiteLedger) Append(ctx context.Context, sessionID string, rec domain.UsageRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(session_id, backend, model, input_tokens, cached_tokens, cache_write_tokens, output_tokens, cost_usd, savings_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.Backend, rec.Model, rec.InputTokens, rec.CachedTokens, rec.CacheWriteTokens,
		rec.OutputTokens, rec.Cost, rec.Savings, ts.UTC())
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Session returns the records of one session in insertion order.
func (l *SQLiteLedger) Session(ctx context.Context, sessionID string) ([]domain.UsageRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT backend, model, input_tokens, cached_tokens, cache_write_tokens, output_tokens, cost_usd, savings_usd, created_at
		 FROM usage_records WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session usage: %w", err)
	}
	defer rows.Close()

	var out []domain.UsageRecord
	for rows.Next() {
		var r domain.UsageRecord
		if err := rows.Scan(&r.Backend, &r.Model, &r.InputTokens, &r.CachedTokens, &r.CacheWriteTokens,
			&r.OutputTokens, &r.Cost, &r.Savings, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Totals aggregates usage per backend/model since the given time.
func (l *SQLiteLedger) Totals(ctx context.Context, since time.Time) ([]BackendTotal, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT backend, model, COUNT(*), SUM(input_tokens), SUM(cached_tokens), SUM(cache_write_tokens),
			SUM(output_tokens), SUM(cost_usd), SUM(savings_usd)
		 FROM usage_records WHERE created_at >= ?
		 GROUP BY backend, model ORDER BY SUM(cost_usd) DESC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query usage totals: %w", err)
	}
	defer rows.Close()

	var out []BackendTotal
	for rows.Next() {
		var t BackendTotal
		if err := rows.Scan(&t.Backend, &t.Model, &t.Requests, &t.Usage.InputTokens, &t.Usage.CachedTokens,
			&t.Usage.CacheWriteTokens, &t.Usage.OutputTokens, &t.Usage.Cost, &t.Usage.Savings); err != nil {
			return nil, fmt.Errorf("scan usage totals: %w", err)
		}
		t.Usage.Backend = t.Backend
		t.Usage.Model = t.Model
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fpt/kanoa/pkg/domain"
)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	backend TEXT NOT NULL,
	model TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	handle TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	tokens INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	ttl_ns INTEGER NOT NULL,
	PRIMARY KEY (backend, model, fingerprint)
);
`

// SQLiteRegistry keeps entries across restarts in a local database.
type SQLiteRegistry struct {
	db *sql.DB
}

// OpenSQLiteRegistry opens (or creates) the registry at dbPath.
func OpenSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache registry: %w", err)
	}
	// Writes are serialised by SQLite; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache registry: %w", err)
	}
	return &SQLiteRegistry{db: db}, nil
}

func (r *SQLiteRegistry) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT backend, model, fingerprint, handle, source, tokens, created_at, ttl_ns
		 FROM cache_entries WHERE backend = ? AND model = ? AND fingerprint = ?`,
		key.Backend, key.Model, key.Fingerprint)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRegistry) Put(ctx context.Context, e *domain.CacheEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cache_entries (backend, model, fingerprint, handle, source, tokens, created_at, ttl_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(backend, model, fingerprint) DO UPDATE SET
			handle = excluded.handle, source = excluded.source, tokens = excluded.tokens,
			created_at = excluded.created_at, ttl_ns = excluded.ttl_ns`,
		e.Backend, e.Model, e.Fingerprint, e.Handle, e.Source, e.Tokens, e.CreatedAt.UnixNano(), int64(e.TTL))
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Delete(ctx context.Context, key domain.CacheKey) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE backend = ? AND model = ? AND fingerprint = ?`,
		key.Backend, key.Model, key.Fingerprint)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) List(ctx context.Context) ([]*domain.CacheEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT backend, model, fingerprint, handle, source, tokens, created_at, ttl_ns
		 FROM cache_entries ORDER BY backend, model, fingerprint`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.CacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*domain.CacheEntry, error) {
	var (
		e         domain.CacheEntry
		createdAt int64
		ttl       int64
	)
	if err := s.Scan(&e.Backend, &e.Model, &e.Fingerprint, &e.Handle, &e.Source, &e.Tokens, &createdAt, &ttl); err != nil {
		return nil, err
	}
	e.CreatedAt = time.Unix(0, createdAt)
	e.TTL = time.Duration(ttl)
	return &e, nil
}

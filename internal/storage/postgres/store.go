// Package postgres persists crawl results in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankmybrand/geocrawl/internal/crawl"
)

// querier is the slice of pgxpool.Pool the store needs. Tests substitute a
// pgxmock pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements crawl.ResultSink on top of a pgx connection pool.
//
// Expected schema:
//
//	CREATE TABLE pages (
//	    id               BIGSERIAL PRIMARY KEY,
//	    job_id           UUID NOT NULL,
//	    url              TEXT NOT NULL,
//	    final_url        TEXT NOT NULL,
//	    status_code      INT NOT NULL,
//	    render_method    TEXT NOT NULL,
//	    render_reason    TEXT NOT NULL,
//	    response_time_ms BIGINT NOT NULL,
//	    depth            INT NOT NULL,
//	    title            TEXT,
//	    content_hash     TEXT NOT NULL,
//	    near_duplicate   BOOLEAN NOT NULL,
//	    links            JSONB,
//	    fetched_at       TIMESTAMPTZ NOT NULL,
//	    created_at       TIMESTAMPTZ DEFAULT NOW()
//	);
type Store struct {
	db querier
}

const insertPage = `
	INSERT INTO pages (
		job_id, url, final_url, status_code, render_method, render_reason,
		response_time_ms, depth, title, content_hash, near_duplicate, links, fetched_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// New connects to Postgres and verifies the connection with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithDB wraps an existing pool. Used by tests.
func NewWithDB(db querier) *Store {
	return &Store{db: db}
}

// SaveResult inserts one crawled page record.
func (s *Store) SaveResult(ctx context.Context, result crawl.Result) error {
	links, err := json.Marshal(result.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}

	_, err = s.db.Exec(ctx, insertPage,
		result.JobID,
		result.URL,
		result.FinalURL,
		result.StatusCode,
		string(result.RenderMethod),
		result.RenderReason,
		result.ResponseTimeMs,
		result.Depth,
		result.Title,
		result.ContentHash,
		result.NearDuplicate,
		links,
		result.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert page %s: %w", result.URL, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

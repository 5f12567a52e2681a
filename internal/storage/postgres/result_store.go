// Package postgres provides a Postgres-backed result store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ResultStore keeps one row per URL in a Postgres table.
type ResultStore struct {
	pool   pool
	table  string
	logger *zap.Logger
}

// NewResultStore connects a pool using cfg.
func NewResultStore(ctx context.Context, cfg Config, logger *zap.Logger) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewResultStoreWithPool(p, cfg.Table, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(p pool, table string, logger *zap.Logger) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "ratings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{pool: p, table: table, logger: logger}, nil
}

// Prepare creates the results table if needed.
func (s *ResultStore) Prepare(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url          TEXT PRIMARY KEY,
	score        TEXT,
	review_count INTEGER,
	success      BOOLEAN NOT NULL,
	attempts     INTEGER NOT NULL,
	error        TEXT,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Seen returns every URL already stored. A failed read is logged and treated
// as an empty table; the primary key still prevents duplicate rows.
func (s *ResultStore) Seen(ctx context.Context) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT url FROM %s", s.table))
	if err != nil {
		s.logger.Warn("cannot read existing results; processing everything", zap.Error(err))
		return seen, nil
	}
	defer rows.Close()
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			s.logger.Warn("skipping unreadable result row", zap.Error(err))
			continue
		}
		seen[url] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("result scan interrupted; processing everything", zap.Error(err))
		return make(map[string]struct{}), nil
	}
	return seen, nil
}

// Append inserts results in one transaction. Rows for URLs that already exist
// are left untouched.
func (s *ResultStore) Append(ctx context.Context, results []harvest.Result) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, score, review_count, success, attempts, error)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url) DO NOTHING`, s.table)
	for _, res := range results {
		if _, err := tx.Exec(ctx, query,
			res.URL,
			res.Score,
			res.ReviewCount,
			res.Success,
			res.Attempts,
			nullableText(res.Err),
		); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
			return fmt.Errorf("insert result for %s: %w", res.URL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

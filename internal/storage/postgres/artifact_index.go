// Package postgres provides the Postgres-backed artifact index.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "artifacts"

// Config controls the Postgres connection pool used for index rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ArtifactIndex records one row per (run, job) pointing at the stored artifact.
type ArtifactIndex struct {
	pool  execCloser
	table string
}

var _ harvest.ArtifactIndex = (*ArtifactIndex)(nil)

// New creates a Postgres-backed ArtifactIndex using the provided config.
func New(ctx context.Context, cfg Config) (*ArtifactIndex, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArtifactIndex{pool: pool, table: table}, nil
}

// NewWithPool constructs an index from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*ArtifactIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ArtifactIndex{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ArtifactIndex) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the index table when it does not exist yet.
func (s *ArtifactIndex) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	job_key     TEXT        NOT NULL,
	period      INTEGER     NOT NULL,
	category    TEXT        NOT NULL,
	subtype     TEXT        NOT NULL DEFAULT '',
	name        TEXT        NOT NULL,
	uri         TEXT        NOT NULL,
	size_bytes  INTEGER     NOT NULL,
	hash        TEXT        NOT NULL DEFAULT '',
	stored_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, job_key)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure artifact schema: %w", err)
	}
	return nil
}

// RecordArtifact upserts the row for artifact. Re-running a job within the
// same run replaces its row.
func (s *ArtifactIndex) RecordArtifact(ctx context.Context, runID string, artifact harvest.Artifact) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("artifact index is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	job_key,
	period,
	category,
	subtype,
	name,
	uri,
	size_bytes,
	hash,
	stored_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (run_id, job_key) DO UPDATE SET
	name = EXCLUDED.name,
	uri = EXCLUDED.uri,
	size_bytes = EXCLUDED.size_bytes,
	hash = EXCLUDED.hash,
	stored_at = EXCLUDED.stored_at`, s.table)

	args := []any{
		runID,
		artifact.Job.Key(),
		artifact.Job.Period,
		string(artifact.Job.Category),
		artifact.Job.Subtype,
		artifact.Name,
		artifact.URI,
		artifact.Size,
		artifact.Hash,
		artifact.StoredAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}
	return nil
}

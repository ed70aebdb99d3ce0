package runstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore writes Run records to the epp_runs table, shaped after
// the teacher's invocation_logs table: one append-only row per completed
// unit of work, queryable by job id.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against dsn and ensures epp_runs exists.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("runstore: parse DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("runstore: create pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS epp_runs (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		segment_count INTEGER NOT NULL DEFAULT 0,
		user_cycles BIGINT NOT NULL DEFAULT 0,
		total_cycles BIGINT NOT NULL DEFAULT 0,
		error_message TEXT
	)`)
	if err != nil {
		return fmt.Errorf("runstore: ensure schema: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_epp_runs_job ON epp_runs(job_id)`)
	if err != nil {
		return fmt.Errorf("runstore: ensure index: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, r Run) error {
	var errMsg *string
	if r.Error != "" {
		errMsg = &r.Error
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO epp_runs (job_id, started_at, finished_at, segment_count, user_cycles, total_cycles, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.JobID, r.StartedAt, r.FinishedAt, r.SegmentCount, r.UserCycles, r.TotalCycles, errMsg)
	if err != nil {
		return fmt.Errorf("runstore: record run: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

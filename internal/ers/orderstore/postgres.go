package orderstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on top of a pgx pool, sharing the same
// pool/schema conventions as internal/taskdb's PostgresTaskDB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("orderstore: postgres DSN is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("orderstore: parse DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("orderstore: create pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("orderstore: ping: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ers_orders (
			request_id TEXT PRIMARY KEY,
			deadline_block BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ers_orders_deadline ON ers_orders(deadline_block)`,
		`CREATE TABLE IF NOT EXISTS ers_cursor (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			last_processed_block BIGINT NOT NULL,
			CHECK (id = 1)
		)`,
		`CREATE TABLE IF NOT EXISTS slash_attempts (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			attempted_at TIMESTAMPTZ NOT NULL,
			outcome TEXT NOT NULL,
			tx_hash TEXT,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slash_attempts_request ON slash_attempts(request_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("orderstore: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) AddOrder(ctx context.Context, order Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ers_orders (request_id, deadline_block) VALUES ($1, $2)
		 ON CONFLICT (request_id) DO UPDATE SET deadline_block = EXCLUDED.deadline_block`,
		order.RequestID, order.Deadline)
	if err != nil {
		return fmt.Errorf("orderstore: add order: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveOrder(ctx context.Context, requestID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ers_orders WHERE request_id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("orderstore: remove order: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExpiredOrders(ctx context.Context, currentBlock uint64) ([]Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT request_id, deadline_block FROM ers_orders WHERE deadline_block <= $1`, currentBlock)
	if err != nil {
		return nil, fmt.Errorf("orderstore: expired orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.RequestID, &o.Deadline); err != nil {
			return nil, fmt.Errorf("orderstore: scan expired order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	var block int64
	err := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM ers_cursor WHERE id = 1`).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("orderstore: last processed block: %w", err)
	}
	return uint64(block), true, nil
}

func (s *PostgresStore) SetLastProcessedBlock(ctx context.Context, block uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ers_cursor (id, last_processed_block) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET last_processed_block = EXCLUDED.last_processed_block`,
		int64(block))
	if err != nil {
		return fmt.Errorf("orderstore: set last processed block: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordSlashAttempt(ctx context.Context, attempt SlashAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO slash_attempts (request_id, attempted_at, outcome, tx_hash, error_message)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))`,
		attempt.RequestID, attempt.AttemptedAt, attempt.Outcome, attempt.TxHash, attempt.Error)
	if err != nil {
		return fmt.Errorf("orderstore: record slash attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
